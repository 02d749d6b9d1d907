package tracker

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/spec-kit/ticket-intake/internal/domain"
)

// Option is a selectable tracker entity such as a workflow status or a
// team member.
type Option struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// CatalogFile is the on-disk catalog layout.
type CatalogFile struct {
	Labels    map[string]string `yaml:"labels"`
	Statuses  []Option          `yaml:"statuses"`
	Assignees []Option          `yaml:"assignees"`
	Templates map[string]string `yaml:"templates"`
}

// Snapshot is the part of the catalog the tracker itself can report.
type Snapshot struct {
	Labels    []Option
	Statuses  []Option
	Assignees []Option
}

// Source fetches a fresh snapshot from the tracker.
type Source interface {
	FetchSnapshot(ctx context.Context) (Snapshot, error)
}

// Catalog holds tracker lookups: label ids, statuses, assignees and
// description templates. Safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	labels    map[domain.TicketLabel]string
	statuses  []Option
	assignees []Option
	templates map[domain.TicketLabel]string
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file CatalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(file)
}

// NewCatalog validates file and builds a Catalog from it.
func NewCatalog(file CatalogFile) (*Catalog, error) {
	c := &Catalog{
		labels:    make(map[domain.TicketLabel]string, len(file.Labels)),
		templates: make(map[domain.TicketLabel]string, len(file.Templates)),
		statuses:  append([]Option(nil), file.Statuses...),
		assignees: append([]Option(nil), file.Assignees...),
	}
	for raw, id := range file.Labels {
		label, ok := domain.ParseLabel(strings.ToLower(raw))
		if !ok {
			return nil, fmt.Errorf("catalog: unknown label %q", raw)
		}
		c.labels[label] = id
	}
	for raw, text := range file.Templates {
		label, ok := domain.ParseLabel(strings.ToLower(raw))
		if !ok {
			return nil, fmt.Errorf("catalog: template for unknown label %q", raw)
		}
		c.templates[label] = strings.TrimSpace(text)
	}
	return c, nil
}

// LabelID returns the tracker id for a label.
func (c *Catalog) LabelID(label domain.TicketLabel) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.labels[label]
	return id, ok && id != ""
}

// Template returns the description template offered for label.
func (c *Catalog) Template(label domain.TicketLabel) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	text, ok := c.templates[label]
	return text, ok && text != ""
}

// Statuses returns the selectable workflow statuses.
func (c *Catalog) Statuses() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Option(nil), c.statuses...)
}

// Assignees returns the selectable team members.
func (c *Catalog) Assignees() []Option {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Option(nil), c.assignees...)
}

// Status looks up a status by id.
func (c *Catalog) Status(id string) (Option, bool) {
	return find(c.Statuses(), id)
}

// Assignee looks up a team member by id.
func (c *Catalog) Assignee(id string) (Option, bool) {
	return find(c.Assignees(), id)
}

// Refresh replaces labels, statuses and assignees with what src reports.
// Templates are local only. Empty lists in the snapshot keep the current
// values.
func (c *Catalog) Refresh(ctx context.Context, src Source) error {
	snap, err := src.FetchSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("refresh catalog: %w", err)
	}

	labels := make(map[domain.TicketLabel]string, len(snap.Labels))
	for _, opt := range snap.Labels {
		if label, ok := domain.ParseLabel(strings.ToLower(opt.Name)); ok {
			labels[label] = opt.ID
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(labels) > 0 {
		c.labels = labels
	}
	if len(snap.Statuses) > 0 {
		c.statuses = append([]Option(nil), snap.Statuses...)
	}
	if len(snap.Assignees) > 0 {
		c.assignees = append([]Option(nil), snap.Assignees...)
	}
	return nil
}

func find(options []Option, id string) (Option, bool) {
	for _, opt := range options {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}
