package mqtt

import "strings"

// JoinTopic joins topic levels with "/", trimming stray separators from each
// level so that a configured prefix like "x10/cmd/" does not produce "//".
func JoinTopic(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		l = strings.Trim(l, "/")
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}

// LastLevel returns the final level of a topic ("x10/cmd/A1" -> "A1").
func LastLevel(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// MatchTopic reports whether topic matches the subscription filter,
// honouring the + and # wildcards.
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")

	for i, level := range f {
		if level == "#" {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
