package main

import (
	"context"

	"github.com/sauzeros/crs/internal/crs/index"
	"github.com/sauzeros/crs/internal/crs/semver"
	"github.com/sauzeros/crs/internal/crs/solver"
)

// solverIndex adapts *index.Index to solver.Index: Lookup returns every
// entry for a name, Candidates filters that down to the solver's shape.
type solverIndex struct {
	idx *index.Index
}

func (s solverIndex) Candidates(ctx context.Context, name string) ([]solver.Candidate, error) {
	entries, err := s.idx.Lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]solver.Candidate, 0, len(entries))
	for _, e := range entries {
		v, err := semver.Parse(e.Version)
		if err != nil {
			continue
		}
		out = append(out, solver.Candidate{
			RemoteID:    e.Remote.ID,
			RemotePrio:  e.Remote.Priority,
			Name:        e.Name,
			Version:     v,
			Revision:    e.Revision,
			Manifest:    e.Manifest,
			ContentHash: e.ContentHash,
		})
	}
	return out, nil
}

func (s solverIndex) KnownNames(ctx context.Context) ([]string, error) {
	return s.idx.KnownNames(ctx)
}
