package evaluation

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// FromGroups links every pair of ids that appear together in a group.
// Relations are symmetric; groups with fewer than two ids add nothing.
func FromGroups(groups [][]string) GroundTruth {
	g := make(GroundTruth)
	for _, group := range groups {
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				g.add(group[i], group[j])
				g.add(group[j], group[i])
			}
		}
	}
	return g
}

// FromAttributes links ids that share at least one attribute value
// (e.g. datasets used for the same task).
func FromAttributes(attrs map[string][]string) GroundTruth {
	byValue := make(map[string][]string)
	for id, values := range attrs {
		seen := make(map[string]bool, len(values))
		for _, v := range values {
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			byValue[v] = append(byValue[v], id)
		}
	}
	groups := make([][]string, 0, len(byValue))
	for _, ids := range byValue {
		groups = append(groups, ids)
	}
	return FromGroups(groups)
}

// ReadGroundTruth decodes {"id": ["related", ...]} as given, without symmetrizing.
func ReadGroundTruth(r io.Reader) (GroundTruth, error) {
	var raw map[string][]string
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode ground truth: %v: %w", err, domain.ErrInvalidInput)
	}
	g := make(GroundTruth, len(raw))
	for id, related := range raw {
		for _, other := range related {
			g.add(id, other)
		}
	}
	return g, nil
}

// ReadPredictions decodes {"id": ["recommended", ...]} keeping list order.
func ReadPredictions(r io.Reader) (Predictions, error) {
	var p Predictions
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode predictions: %v: %w", err, domain.ErrInvalidInput)
	}
	return p, nil
}
