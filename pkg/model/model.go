package model

import (
	"sort"
	"strconv"
	"strings"
)

// GeoPosition is a single resolved fix from the device.
type GeoPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Marker is a point of interest shown on the map.
type Marker struct {
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Info      map[string]string `json:"info,omitempty"`
}

// Key returns a value that is equal for two markers iff their coordinates and
// info are equal. Info keys are sorted so map iteration order does not matter.
func (m *Marker) Key() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatFloat(m.Latitude, 'g', -1, 64))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatFloat(m.Longitude, 'g', -1, 64))

	keys := make([]string, 0, len(m.Info))
	for k := range m.Info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte('|')
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte('=')
		sb.WriteString(strconv.Quote(m.Info[k]))
	}
	return sb.String()
}

// Title returns a display label for the marker, falling back to coordinates.
func (m *Marker) Title() string {
	for _, k := range []string{"name", "title", "label"} {
		if v := m.Info[k]; v != "" {
			return v
		}
	}
	first, last := m.Info["firstName"], m.Info["lastName"]
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	return strconv.FormatFloat(m.Latitude, 'f', 5, 64) + ", " + strconv.FormatFloat(m.Longitude, 'f', 5, 64)
}

// Clone returns a deep copy of the marker.
func (m Marker) Clone() Marker {
	if m.Info == nil {
		return m
	}
	info := make(map[string]string, len(m.Info))
	for k, v := range m.Info {
		info[k] = v
	}
	m.Info = info
	return m
}

// CloneMarkers deep-copies a marker list so callers cannot mutate it afterwards.
func CloneMarkers(ms []Marker) []Marker {
	if ms == nil {
		return nil
	}
	out := make([]Marker, len(ms))
	for i := range ms {
		out[i] = ms[i].Clone()
	}
	return out
}
