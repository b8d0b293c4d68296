package report

import "strings"

// MatchIdentifier matches a resource identifier against a pattern that may
// carry at most one "*" wildcard, anchored on both sides: the text before the
// star must prefix the identifier and the text after must suffix it, without
// overlapping. A pattern with two or more stars matches nothing.
func MatchIdentifier(pattern, id string) bool {
	switch strings.Count(pattern, "*") {
	case 0:
		return pattern == id
	case 1:
		prefix, suffix, _ := strings.Cut(pattern, "*")
		return len(id) >= len(prefix)+len(suffix) &&
			strings.HasPrefix(id, prefix) && strings.HasSuffix(id, suffix)
	default:
		return false
	}
}

// ResourceFilter builds a catalog filter from comma-separated ARA and KP
// identifier lists, either of which may be empty and any entry of which may
// carry a wildcard.
//
// With ARA patterns present, a run matches when it tested a matching ARA;
// KP patterns then narrow to ARAs that called a matching KP underneath.
// With only KP patterns, a run matches when it tested a matching KP
// directly. With neither, every run matches.
func ResourceFilter(araID, kpID string) DocumentFilter {
	araPatterns := splitIdentifierList(araID)
	kpPatterns := splitIdentifierList(kpID)
	if len(araPatterns) == 0 && len(kpPatterns) == 0 {
		return nil
	}
	return func(summary map[string]any) bool {
		if len(araPatterns) > 0 {
			return matchARASection(summary, araPatterns, kpPatterns)
		}
		return matchKPSection(summary, kpPatterns)
	}
}

func matchARASection(summary map[string]any, araPatterns, kpPatterns []string) bool {
	aras, ok := summary[string(ComponentARA)].(map[string]any)
	if !ok {
		return false
	}
	for id, entry := range aras {
		if !matchAny(araPatterns, id) {
			continue
		}
		if len(kpPatterns) == 0 {
			return true
		}
		details, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		kps, ok := details["kps"].(map[string]any)
		if !ok {
			continue
		}
		for kp := range kps {
			if matchAny(kpPatterns, kp) {
				return true
			}
		}
	}
	return false
}

func matchKPSection(summary map[string]any, kpPatterns []string) bool {
	kps, ok := summary[string(ComponentKP)].(map[string]any)
	if !ok {
		return false
	}
	for id := range kps {
		if matchAny(kpPatterns, id) {
			return true
		}
	}
	return false
}

func matchAny(patterns []string, id string) bool {
	for _, p := range patterns {
		if MatchIdentifier(p, id) {
			return true
		}
	}
	return false
}

func splitIdentifierList(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
