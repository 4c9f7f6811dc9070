// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package garmin polls a Garmin MapShare KML feed. Shares can be
// password-protected, which maps onto HTTP basic auth.
package garmin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clbanning/mxj"

	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
	"github.com/emfoursolutions/trakbridge/pkg/util/log"
)

const kind = "garmin"

func init() {
	providers.Register(kind, func() providers.Provider { return &Provider{} })
}

// Provider fetches Garmin MapShare KML feeds.
type Provider struct{}

// Metadata implements providers.Provider.
func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{
		Kind:         kind,
		DisplayName:  "Garmin MapShare",
		RequiredKeys: []string{"url"},
	}
}

// Fetch implements providers.Provider.
func (p *Provider) Fetch(ctx context.Context, client *http.Client, cfg providers.Config) ([]*tracker.Location, error) {
	if err := cfg.CheckRequired(p.Metadata()); err != nil {
		return nil, err
	}
	body, err := providers.Get(ctx, client, cfg.GetString("url"), cfg.GetString("username"), cfg.GetString("password"))
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

func parseFeed(body []byte) ([]*tracker.Location, error) {
	mv, err := mxj.NewMapXml(body)
	if err != nil {
		return nil, providers.NewTransientError(fmt.Errorf("malformed MapShare KML: %w", err))
	}

	placemarks, err := mv.ValuesForPath("kml.Document.Folder.Placemark")
	if err != nil || len(placemarks) == 0 {
		placemarks, _ = mv.ValuesForPath("kml.Document.Placemark")
	}

	locations := make([]*tracker.Location, 0, len(placemarks))
	for _, raw := range placemarks {
		placemark, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		loc := parsePlacemark(placemark)
		if loc != nil {
			locations = append(locations, loc)
		}
	}
	return locations, nil
}

// parsePlacemark converts one device placemark, returning nil for the track
// line placemarks MapShare mixes into the feed.
func parsePlacemark(placemark map[string]interface{}) *tracker.Location {
	point, ok := placemark["Point"].(map[string]interface{})
	if !ok {
		return nil
	}
	lat, lon, ok := parseCoordinates(text(point["coordinates"]))
	if !ok {
		log.Debugf("Skipping MapShare placemark with unusable coordinates %q", text(point["coordinates"]))
		return nil
	}

	data := extendedData(placemark)
	name := text(placemark["name"])
	if display := data["Map Display Name"]; display != "" {
		name = display
	}
	uid := data["IMEI"]
	if uid == "" {
		uid = data["Id"]
	}
	if uid == "" {
		uid = name
	}

	loc := &tracker.Location{UID: uid, Name: name, Lat: lat, Lon: lon}

	if ts, ok := placemark["TimeStamp"].(map[string]interface{}); ok {
		if when, err := time.Parse(time.RFC3339, text(ts["when"])); err == nil {
			loc.Timestamp = when.UTC()
		}
	}
	if v, ok := leadingFloat(data["Velocity"]); ok && v >= 0 {
		speed := v / 3.6 // MapShare reports km/h
		loc.Speed = &speed
	}
	if c, ok := leadingFloat(data["Course"]); ok {
		course := tracker.NormalizeCourse(c)
		loc.Course = &course
	}
	if imei := data["IMEI"]; imei != "" {
		loc.SetAdditional("imei", imei)
	}
	if deviceType := data["Device Type"]; deviceType != "" {
		loc.SetAdditional("device_type", deviceType)
	}
	if strings.EqualFold(data["In Emergency"], "true") {
		loc.SetAdditional("in_emergency", true)
	}
	if event := data["Event"]; event != "" {
		loc.SetAdditional("event", event)
	}
	return loc
}

// extendedData flattens the <ExtendedData><Data name=…><value>…</value>
// blocks into a plain map.
func extendedData(placemark map[string]interface{}) map[string]string {
	out := make(map[string]string)
	extended, ok := placemark["ExtendedData"].(map[string]interface{})
	if !ok {
		return out
	}
	var entries []interface{}
	switch d := extended["Data"].(type) {
	case []interface{}:
		entries = d
	case map[string]interface{}:
		entries = []interface{}{d}
	}
	for _, raw := range entries {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		name := text(entry["-name"])
		if name == "" {
			continue
		}
		out[name] = text(entry["value"])
	}
	return out
}

// parseCoordinates splits the "lon,lat[,alt]" KML coordinate string.
func parseCoordinates(coordinates string) (lat, lon float64, ok bool) {
	parts := strings.Split(strings.TrimSpace(coordinates), ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	lon, errLon := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errLon != nil || errLat != nil {
		return 0, 0, false
	}
	return lat, lon, true
}

// leadingFloat parses values like "4.0 km/h" or "315.00 ° True".
func leadingFloat(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// text renders an mxj leaf, which is a string unless the element carried
// attributes.
func text(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case map[string]interface{}:
		return text(s["#text"])
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
