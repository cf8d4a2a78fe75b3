package catalog

import "strings"

// DefaultRandomMarkers identify files produced by random play without a network.
var DefaultRandomMarkers = []string{"random/tdata/", `random\tdata\`}

// Classifier tells random-source files apart from normal ones by path.
type Classifier struct {
	markers []string
}

// NewClassifier builds a classifier from path markers. No markers means the defaults.
func NewClassifier(markers []string) Classifier {
	if len(markers) == 0 {
		markers = DefaultRandomMarkers
	}

	return Classifier{markers: markers}
}

// IsRandom reports whether path contains any random-source marker.
func (c Classifier) IsRandom(path string) bool {
	for _, m := range c.markers {
		if strings.Contains(path, m) {
			return true
		}
	}

	return false
}

// IsTempLike reports whether a file name looks like an in-progress temporary.
func IsTempLike(filename string) bool {
	return strings.Contains(filename, "_")
}
