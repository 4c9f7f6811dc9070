// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package deepstate polls the DeepState OSINT map for point features. The
// feed marks hostile positions, so locations carry a hostile ground CoT type
// for per_point streams.
package deepstate

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/twmb/murmur3"

	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
)

const kind = "deepstate"

// defaultURL is the latest-snapshot endpoint of the public API.
const defaultURL = "https://deepstatemap.live/api/history/last"

// hostileGroundType marks DeepState features as hostile ground tracks.
const hostileGroundType = "a-h-G"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	providers.Register(kind, func() providers.Provider { return &Provider{} })
}

// Provider fetches DeepState map snapshots.
type Provider struct{}

// Metadata implements providers.Provider.
func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{
		Kind:        kind,
		DisplayName: "DeepState Map",
	}
}

type snapshot struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"createdAt"`
	Map       struct {
		Features []feature `json:"features"`
	} `json:"map"`
}

type feature struct {
	ID       interface{} `json:"id"`
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
}

// Fetch implements providers.Provider.
func (p *Provider) Fetch(ctx context.Context, client *http.Client, cfg providers.Config) ([]*tracker.Location, error) {
	url := cfg.GetString("url")
	if url == "" {
		url = defaultURL
	}
	body, err := providers.Get(ctx, client, url, "", "")
	if err != nil {
		return nil, err
	}
	return parseSnapshot(body)
}

func parseSnapshot(body []byte) ([]*tracker.Location, error) {
	var snap snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, providers.NewTransientError(fmt.Errorf("malformed deepstate snapshot: %w", err))
	}

	var observedAt time.Time
	if ts, err := time.Parse(time.RFC3339, snap.CreatedAt); err == nil {
		observedAt = ts.UTC()
	}

	locations := make([]*tracker.Location, 0, len(snap.Map.Features))
	for _, f := range snap.Map.Features {
		// polygons and lines describe areas, only points are trackable
		if f.Geometry.Type != "Point" || len(f.Geometry.Coordinates) < 2 {
			continue
		}
		name := featureName(f.Properties.Name)
		if name == "" {
			continue
		}
		loc := &tracker.Location{
			UID:       featureUID(f, name),
			Name:      name,
			Lat:       f.Geometry.Coordinates[1],
			Lon:       f.Geometry.Coordinates[0],
			Timestamp: observedAt,
		}
		loc.SetAdditional(tracker.KeyCotType, hostileGroundType)
		locations = append(locations, loc)
	}
	return locations, nil
}

// featureName keeps the first segment of the "///"-separated multilingual
// label.
func featureName(raw string) string {
	name := raw
	if idx := strings.Index(raw, "///"); idx >= 0 {
		name = raw[:idx]
	}
	return strings.TrimSpace(name)
}

// featureUID prefers the upstream feature id and falls back to a stable hash
// of the label, so repeated polls keep updating the same CoT uid.
func featureUID(f feature, name string) string {
	switch id := f.ID.(type) {
	case string:
		if id != "" {
			return "deepstate-" + id
		}
	case float64:
		return "deepstate-" + strconv.FormatInt(int64(id), 10)
	}
	return "deepstate-" + strconv.FormatUint(murmur3.StringSum64(name), 16)
}
