package core

import (
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/commcore/commcore-go/pkg/rterr"
)

// NameResolver is the seam for the external name-remapping collaborator.
// Given a name already expanded against a node's namespace, it returns the
// final fully-qualified name, or an error classified as ErrInvalidName,
// ErrInvalidNamespace, or ErrInvalidRemap.
type NameResolver interface {
	Resolve(name, namespace string) (string, error)
}

// passthroughResolver applies no remap rules.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(name, _ string) (string, error) { return name, nil }

// DefaultNameResolver returns a resolver that applies no remapping.
func DefaultNameResolver() NameResolver { return passthroughResolver{} }

// Validated namespaces are revisited on every node and endpoint creation,
// so cache the normalized forms.
var namespaceCache, _ = lru.New[string, string](128)

func isNameStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isNameChar(c byte) bool {
	return isNameStart(c) || (c >= '0' && c <= '9')
}

// ValidateNodeName checks name against the naming grammar: one or more
// alphanumeric or underscore characters, not starting with a digit.
func ValidateNodeName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: node name is empty", rterr.ErrInvalidName)
	}
	if !isNameStart(name[0]) {
		return fmt.Errorf("%w: node name %q must not start with %q", rterr.ErrInvalidName, name, name[0])
	}
	for i := 1; i < len(name); i++ {
		if !isNameChar(name[i]) {
			return fmt.Errorf("%w: node name %q contains %q", rterr.ErrInvalidName, name, name[i])
		}
	}
	return nil
}

// NormalizeNamespace validates ns against the namespace grammar and returns
// its normalized form: the empty string and "/" both normalize to "/", and a
// non-absolute namespace gains a leading slash. A trailing slash other than
// the root, an empty segment, a segment starting with a digit, or a
// disallowed character all fail with ErrInvalidNamespace.
func NormalizeNamespace(ns string) (string, error) {
	if ns == "" || ns == "/" {
		return "/", nil
	}
	if cached, ok := namespaceCache.Get(ns); ok {
		return cached, nil
	}
	normalized := ns
	if normalized[0] != '/' {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") {
		return "", fmt.Errorf("%w: namespace %q must not end with a slash", rterr.ErrInvalidNamespace, ns)
	}
	for _, segment := range strings.Split(normalized[1:], "/") {
		if segment == "" {
			return "", fmt.Errorf("%w: namespace %q contains an empty segment", rterr.ErrInvalidNamespace, ns)
		}
		if !isNameStart(segment[0]) {
			return "", fmt.Errorf("%w: namespace segment %q must not start with %q", rterr.ErrInvalidNamespace, segment, segment[0])
		}
		for i := 1; i < len(segment); i++ {
			if !isNameChar(segment[i]) {
				return "", fmt.Errorf("%w: namespace segment %q contains %q", rterr.ErrInvalidNamespace, segment, segment[i])
			}
		}
	}
	namespaceCache.Add(ns, normalized)
	return normalized, nil
}

// fullyQualifiedName joins a normalized namespace and a validated node name.
func fullyQualifiedName(normalizedNS, name string) string {
	if normalizedNS == "/" {
		return "/" + name
	}
	return normalizedNS + "/" + name
}

// loggerName derives the dotted logger name from a fully-qualified node
// name: namespace segments joined by dots plus the node name, with no dots
// when the namespace is the root.
func loggerName(fqn string) string {
	return strings.ReplaceAll(strings.TrimPrefix(fqn, "/"), "/", ".")
}

// expandTopicName expands topic relative to a node's fully-qualified name
// and normalized namespace: absolute names pass through, "~" names are
// node-private, anything else is namespace-relative. The expanded name is
// validated segment by segment under the same grammar as namespaces.
func expandTopicName(topic, nodeFQN, normalizedNS string) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("%w: topic name is empty", rterr.ErrInvalidName)
	}
	var expanded string
	switch {
	case topic[0] == '/':
		expanded = topic
	case topic == "~":
		expanded = nodeFQN
	case strings.HasPrefix(topic, "~/"):
		expanded = nodeFQN + topic[1:]
	case normalizedNS == "/":
		expanded = "/" + topic
	default:
		expanded = normalizedNS + "/" + topic
	}
	if strings.HasSuffix(expanded, "/") {
		return "", fmt.Errorf("%w: topic name %q must not end with a slash", rterr.ErrInvalidName, topic)
	}
	for _, segment := range strings.Split(expanded[1:], "/") {
		if segment == "" {
			return "", fmt.Errorf("%w: topic name %q contains an empty segment", rterr.ErrInvalidName, topic)
		}
		if !isNameStart(segment[0]) {
			return "", fmt.Errorf("%w: topic segment %q must not start with %q", rterr.ErrInvalidName, segment, segment[0])
		}
		for i := 1; i < len(segment); i++ {
			if !isNameChar(segment[i]) {
				return "", fmt.Errorf("%w: topic segment %q contains %q", rterr.ErrInvalidName, segment, segment[i])
			}
		}
	}
	return expanded, nil
}
