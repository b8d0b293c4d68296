package report

import (
	"strconv"
	"strings"
)

// Component names the two kinds of resources a test run exercises: knowledge
// providers queried directly, and autonomous relay agents queried in front of
// a provider.
type Component string

const (
	ComponentKP  Component = "KP"
	ComponentARA Component = "ARA"
)

// Resource key scheme. Keys are slash-separated paths rooted at the
// component, so artifacts of one resource group together on every backend:
//
//	KP/<kp_id>/resource_summary
//	ARA/<ara_id>/<kp_id>/<kp_id>-<edge>
//
// Identifiers arrive CURIE-shaped ("infores:some-kp"); the colon is replaced
// so keys stay safe as file paths.

// SanitizeIdentifier makes a resource identifier usable as a key segment.
func SanitizeIdentifier(id string) string {
	return strings.ReplaceAll(id, ":", "-")
}

// BuildResourcePath returns the key prefix under which all artifacts of one
// resource live. For a KP the ARA identifier is empty.
func BuildResourcePath(component Component, araID, kpID string) string {
	parts := []string{string(component)}
	if component == ComponentARA {
		parts = append(parts, SanitizeIdentifier(araID))
	}
	parts = append(parts, SanitizeIdentifier(kpID))
	return strings.Join(parts, "/")
}

// BuildResourceSummaryKey addresses a resource's roll-up summary document.
func BuildResourceSummaryKey(component Component, araID, kpID string) string {
	return BuildResourcePath(component, araID, kpID) + "/resource_summary"
}

// BuildEdgeDetailsKey addresses the full per-case details document of one
// tested edge of a resource.
func BuildEdgeDetailsKey(component Component, araID, kpID string, edgeIdx int) string {
	return BuildResourcePath(component, araID, kpID) + "/" + EdgeDocumentName(kpID, edgeIdx)
}

// BuildRecommendationsKey addresses a resource's remediation document.
func BuildRecommendationsKey(component Component, araID, kpID string) string {
	return BuildResourcePath(component, araID, kpID) + "/recommendations"
}

// BuildResponseKey addresses the captured TRAPI response of one test case of
// one edge, "<edge document>-<test_id>".
func BuildResponseKey(component Component, araID, kpID string, edgeIdx int, testID string) string {
	return BuildResourcePath(component, araID, kpID) + "/" + EdgeDocumentName(kpID, edgeIdx) + "-" + testID
}

// EdgeDocumentName is the leaf name of an edge details document,
// "<kp_id>-<edge_idx>".
func EdgeDocumentName(kpID string, edgeIdx int) string {
	return SanitizeIdentifier(kpID) + "-" + strconv.Itoa(edgeIdx)
}
