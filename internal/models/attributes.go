package models

import (
	"fmt"
	"strconv"
	"strings"
)

// RawAttribute is an allocation attribute row as stored by the portal
type RawAttribute struct {
	Name     string   `json:"name" yaml:"name"`
	Value    string   `json:"value" yaml:"value"`
	HasUsage bool     `json:"has_usage,omitempty" yaml:"has_usage,omitempty"`
	Usage    *float64 `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// AttributeKey enumerates the allocation attributes the pipeline understands
type AttributeKey int

const (
	AttrQuotaGB AttributeKey = iota
	AttrFileCount
	AttrProjectID
	AttrPath
)

func (k AttributeKey) String() string {
	switch k {
	case AttrQuotaGB:
		return "quota_gb"
	case AttrFileCount:
		return "file_count"
	case AttrProjectID:
		return "project_id"
	case AttrPath:
		return "path"
	default:
		return fmt.Sprintf("attribute(%d)", int(k))
	}
}

// AttributeNames maps each known key to the attribute type name used by the portal
type AttributeNames struct {
	QuotaGB   string `yaml:"quota_gb" json:"quota_gb"`
	FileCount string `yaml:"file_count" json:"file_count"`
	ProjectID string `yaml:"project_id" json:"project_id"`
	Path      string `yaml:"path" json:"path"`
}

// DefaultAttributeNames returns the portal's stock attribute type names
func DefaultAttributeNames() AttributeNames {
	return AttributeNames{
		QuotaGB:   "Storage Quota (GB)",
		FileCount: "Storage Quota (File Count)",
		ProjectID: "Storage Project ID",
		Path:      "Storage Path",
	}
}

// Name returns the portal attribute name for a key
func (n AttributeNames) Name(key AttributeKey) string {
	switch key {
	case AttrQuotaGB:
		return n.QuotaGB
	case AttrFileCount:
		return n.FileCount
	case AttrProjectID:
		return n.ProjectID
	case AttrPath:
		return n.Path
	default:
		return ""
	}
}

func (n AttributeNames) lookup(name string) (AttributeKey, bool) {
	for _, key := range []AttributeKey{AttrQuotaGB, AttrFileCount, AttrProjectID, AttrPath} {
		if n.Name(key) == name {
			return key, true
		}
	}
	return 0, false
}

// AttributeValue is a typed, validated allocation attribute
type AttributeValue struct {
	Value    string
	HasUsage bool
	Usage    *float64
}

// Attributes holds the known attributes of one allocation
type Attributes struct {
	values map[AttributeKey]AttributeValue
	// usageTracked counts usage-tracked rows, including ones not known by name
	usageTracked int
}

// ParseAttributes converts raw attribute rows into the closed attribute set.
// Unknown attribute names are ignored. Numeric attributes that do not parse
// are reported as ErrInvalidRecord.
func ParseAttributes(raw []RawAttribute, names AttributeNames) (Attributes, error) {
	attrs := Attributes{values: make(map[AttributeKey]AttributeValue)}

	for _, r := range raw {
		if r.HasUsage {
			attrs.usageTracked++
		}
		key, known := names.lookup(r.Name)
		if !known {
			continue
		}

		value := strings.TrimSpace(r.Value)
		switch key {
		case AttrQuotaGB, AttrFileCount, AttrProjectID:
			if value != "" {
				if _, err := strconv.ParseFloat(value, 64); err != nil {
					return Attributes{}, fmt.Errorf("%w: attribute %q has non-numeric value %q", ErrInvalidRecord, r.Name, r.Value)
				}
			}
		}

		if _, seen := attrs.values[key]; seen {
			// Keep the first row, matching the portal's get_attribute behaviour
			continue
		}
		attrs.values[key] = AttributeValue{Value: value, HasUsage: r.HasUsage, Usage: r.Usage}
	}

	return attrs, nil
}

// Get returns the attribute value for a key
func (a Attributes) Get(key AttributeKey) (string, bool) {
	v, ok := a.values[key]
	if !ok {
		return "", false
	}
	return v.Value, true
}

// HasUsageAttribute reports whether the allocation carries at least one usage-tracked attribute
func (a Attributes) HasUsageAttribute() bool {
	return a.usageTracked > 0
}

// RootPath returns the first component of the storage path ("/projects/abc" -> "/projects").
// An empty string means the path is unknown.
func (a Attributes) RootPath() string {
	path, ok := a.Get(AttrPath)
	if !ok || path == "" {
		return ""
	}
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] == "" {
		return ""
	}
	return "/" + parts[1]
}
