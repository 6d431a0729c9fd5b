package packagemanager

import (
	"sort"
	"time"
)

// ArtifactInfo is a read-only snapshot of one artifact table entry.
type ArtifactInfo struct {
	Path      string
	Resolved  string
	From      string
	Extension string
	// Loading is true while the artifact body is still executing.
	Loading  bool
	LoadedAt time.Time
	Duration time.Duration
}

func (r *record) info() ArtifactInfo {
	info := ArtifactInfo{
		Path:      r.path,
		Resolved:  r.resolved,
		From:      r.from,
		Extension: r.ext,
		Loading:   !r.loaded,
	}
	if r.loaded {
		info.LoadedAt = r.loadedAt
		info.Duration = r.loadedAt.Sub(r.startedAt)
	}
	return info
}

// Artifacts lists the artifact table ordered by canonical path.
func (m *Manager) Artifacts() []ArtifactInfo {
	m.artMu.Lock()
	out := make([]ArtifactInfo, 0, len(m.artifacts))
	for _, rec := range m.artifacts {
		out = append(out, rec.info())
	}
	m.artMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Artifact returns the entry for a canonical path.
func (m *Manager) Artifact(canonical string) (ArtifactInfo, bool) {
	m.artMu.Lock()
	defer m.artMu.Unlock()
	rec, ok := m.artifacts[canonical]
	if !ok {
		return ArtifactInfo{}, false
	}
	return rec.info(), true
}
