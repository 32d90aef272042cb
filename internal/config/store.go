package config

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// Store holds the mutable enable map and writes it back to the config file.
type Store struct {
	path string

	mu      sync.Mutex
	enabled map[string][]string
}

// NewStore wraps enabled. An empty path keeps changes in memory only.
func NewStore(path string, enabled map[string][]string) *Store {
	s := &Store{path: path, enabled: make(map[string][]string, len(enabled))}
	for k, v := range enabled {
		s.enabled[k] = slices.Clone(v)
	}
	return s
}

// Path returns the backing config file.
func (s *Store) Path() string { return s.path }

// Enabled returns the plugins enabled for conversation.
func (s *Store) Enabled(conversation string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.enabled[conversation])
}

// Enable records plugin as enabled for conversation. It reports false if it
// already was.
func (s *Store) Enable(conversation, plugin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.enabled[conversation], plugin) {
		return false
	}
	s.enabled[conversation] = append(s.enabled[conversation], plugin)
	return true
}

// Disable removes plugin from conversation. The conversation's key is dropped
// with its last plugin. It reports false if the plugin was not enabled.
func (s *Store) Disable(conversation, plugin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.enabled[conversation]
	i := slices.Index(list, plugin)
	if i < 0 {
		return false
	}
	list = slices.Delete(list, i, i+1)
	if len(list) == 0 {
		delete(s.enabled, conversation)
	} else {
		s.enabled[conversation] = list
	}
	return true
}

// Snapshot returns a copy of the whole enable map.
func (s *Store) Snapshot() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]string, len(s.enabled))
	for k, v := range s.enabled {
		out[k] = slices.Clone(v)
	}
	return out
}

// Conversations returns the keys of the enable map, sorted.
func (s *Store) Conversations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.enabled))
}

// Save rewrites the enabled section of the config file and refreshes its
// checksum sidecar. Every other part of the document, including comments
// and ${VAR} references, is left as written.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	snapshot := s.Snapshot()

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := setMappingKey(&doc, "enabled", snapshot); err != nil {
		return err
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := writeFileAtomic(s.path, out, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := WriteChecksum(s.path); err != nil {
		return err
	}
	return nil
}

// setMappingKey replaces (or appends) key in the document's top-level mapping.
func setMappingKey(doc *yaml.Node, key string, value any) error {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if doc.Kind != yaml.DocumentNode {
		return fmt.Errorf("config is not a YAML document")
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("config root must be a mapping")
	}

	var valueNode yaml.Node
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			valueNode.HeadComment = root.Content[i+1].HeadComment
			root.Content[i+1] = &valueNode
			return nil
		}
	}
	root.Content = append(root.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&valueNode,
	)
	return nil
}
