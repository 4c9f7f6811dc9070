// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package traccar polls a Traccar server REST API for the latest known
// position of every device.
package traccar

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
)

const kind = "traccar"

// knotToMeterPerSecond converts the speed unit of the Traccar API.
const knotToMeterPerSecond = 0.514444

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	providers.Register(kind, func() providers.Provider { return &Provider{} })
}

// Provider fetches device positions from a Traccar server.
type Provider struct{}

// Metadata implements providers.Provider.
func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{
		Kind:         kind,
		DisplayName:  "Traccar Server",
		RequiredKeys: []string{"url"},
	}
}

type device struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	UniqueID string `json:"uniqueId"`
	Status   string `json:"status"`
	Disabled bool   `json:"disabled"`
}

type position struct {
	DeviceID   int                    `json:"deviceId"`
	Latitude   float64                `json:"latitude"`
	Longitude  float64                `json:"longitude"`
	Speed      float64                `json:"speed"` // knots
	Course     float64                `json:"course"`
	FixTime    string                 `json:"fixTime"`
	Valid      bool                   `json:"valid"`
	Attributes map[string]interface{} `json:"attributes"`
}

// Fetch implements providers.Provider. It pulls the device catalog for names
// first, then the latest positions.
func (p *Provider) Fetch(ctx context.Context, client *http.Client, cfg providers.Config) ([]*tracker.Location, error) {
	if err := cfg.CheckRequired(p.Metadata()); err != nil {
		return nil, err
	}
	base := strings.TrimRight(cfg.GetString("url"), "/")

	var devices []device
	if err := p.getJSON(ctx, client, cfg, base+"/api/devices", &devices); err != nil {
		return nil, err
	}
	devicesByID := make(map[int]device, len(devices))
	for _, d := range devices {
		devicesByID[d.ID] = d
	}

	var positions []position
	if err := p.getJSON(ctx, client, cfg, base+"/api/positions", &positions); err != nil {
		return nil, err
	}

	locations := make([]*tracker.Location, 0, len(positions))
	for _, pos := range positions {
		d, known := devicesByID[pos.DeviceID]
		if known && d.Disabled {
			continue
		}
		locations = append(locations, toLocation(pos, d, known))
	}
	return locations, nil
}

func (p *Provider) getJSON(ctx context.Context, client *http.Client, cfg providers.Config, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return providers.NewFatalError("invalid traccar url %q: %v", url, err)
	}
	req.Header.Set("Accept", "application/json")
	if token := cfg.GetString("token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else {
		req.SetBasicAuth(cfg.GetString("username"), cfg.GetString("password"))
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return providers.NewTransientError(err)
	}
	body, err := providers.ReadBody(resp)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return providers.NewTransientError(fmt.Errorf("malformed traccar response from %s: %w", url, err))
	}
	return nil
}

func toLocation(pos position, d device, known bool) *tracker.Location {
	uid := d.UniqueID
	if uid == "" {
		uid = "traccar-" + strconv.Itoa(pos.DeviceID)
	}
	name := d.Name
	if name == "" {
		name = uid
	}

	loc := &tracker.Location{
		UID:  uid,
		Name: name,
		Lat:  pos.Latitude,
		Lon:  pos.Longitude,
	}
	if fix, err := time.Parse(time.RFC3339, pos.FixTime); err == nil {
		loc.Timestamp = fix.UTC()
	}
	if pos.Speed >= 0 {
		speed := pos.Speed * knotToMeterPerSecond
		loc.Speed = &speed
	}
	course := tracker.NormalizeCourse(pos.Course)
	loc.Course = &course

	if battery, found := pos.Attributes["batteryLevel"]; found {
		if level, ok := battery.(float64); ok {
			loc.SetAdditional(tracker.KeyBatteryState, int(level))
		}
	}
	if known {
		loc.SetAdditional("traccar_status", d.Status)
	}
	return loc
}
