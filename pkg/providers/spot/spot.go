// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package spot polls a SPOT satellite messenger shared page feed.
package spot

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/emfoursolutions/trakbridge/pkg/providers"
	"github.com/emfoursolutions/trakbridge/pkg/tracker"
)

const kind = "spot"

// feedURLTemplate is the public shared-page endpoint keyed by feed id.
const feedURLTemplate = "https://api.findmespot.com/spot-main-web/consumer/rest-api/2.0/public/feed/%s/message.json"

// noMessagesCode is the API error returned for feeds with no recent
// positions. It means an empty batch, not a failure.
const noMessagesCode = "E-0195"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	providers.Register(kind, func() providers.Provider { return &Provider{} })
}

// Provider fetches SPOT shared page feeds.
type Provider struct{}

// Metadata implements providers.Provider.
func (p *Provider) Metadata() providers.Metadata {
	return providers.Metadata{
		Kind:         kind,
		DisplayName:  "SPOT Shared Page",
		RequiredKeys: []string{"feed_id"},
	}
}

// Fetch implements providers.Provider.
func (p *Provider) Fetch(ctx context.Context, client *http.Client, cfg providers.Config) ([]*tracker.Location, error) {
	feedURL := cfg.GetString("url")
	if feedURL == "" {
		if err := cfg.CheckRequired(p.Metadata()); err != nil {
			return nil, err
		}
		feedURL = fmt.Sprintf(feedURLTemplate, url.PathEscape(cfg.GetString("feed_id")))
	}
	if password := cfg.GetString("feed_password"); password != "" {
		feedURL += "?feedPassword=" + url.QueryEscape(password)
	}
	body, err := providers.Get(ctx, client, feedURL, "", "")
	if err != nil {
		return nil, err
	}
	return parseFeed(body)
}

func parseFeed(body []byte) ([]*tracker.Location, error) {
	root := json.Get(body, "response")
	if root.LastError() != nil {
		return nil, providers.NewTransientError(fmt.Errorf("malformed SPOT feed: %v", root.LastError()))
	}

	if apiError := root.Get("errors", "error"); apiError.LastError() == nil {
		code := apiError.Get("code").ToString()
		if code == noMessagesCode {
			return nil, nil
		}
		return nil, providers.NewTransientError(fmt.Errorf("SPOT API error %s: %s", code, apiError.Get("text").ToString()))
	}

	messages := root.Get("feedMessageResponse", "messages", "message")
	switch messages.ValueType() {
	case jsoniter.ArrayValue:
		locations := make([]*tracker.Location, 0, messages.Size())
		for i := 0; i < messages.Size(); i++ {
			if loc := parseMessage(messages.Get(i)); loc != nil {
				locations = append(locations, loc)
			}
		}
		return locations, nil
	case jsoniter.ObjectValue:
		// a feed with exactly one message returns a bare object
		if loc := parseMessage(messages); loc != nil {
			return []*tracker.Location{loc}, nil
		}
		return nil, nil
	case jsoniter.InvalidValue:
		return nil, nil
	default:
		return nil, providers.NewTransientError(fmt.Errorf("unexpected SPOT message shape %v", messages.ValueType()))
	}
}

func parseMessage(msg jsoniter.Any) *tracker.Location {
	uid := msg.Get("messengerId").ToString()
	name := msg.Get("messengerName").ToString()
	if uid == "" {
		return nil
	}
	if name == "" {
		name = uid
	}

	loc := &tracker.Location{
		UID:  uid,
		Name: name,
		Lat:  msg.Get("latitude").ToFloat64(),
		Lon:  msg.Get("longitude").ToFloat64(),
	}
	if unix := msg.Get("unixTime").ToInt64(); unix > 0 {
		loc.Timestamp = time.Unix(unix, 0).UTC()
	}
	if battery := msg.Get("batteryState").ToString(); battery != "" {
		loc.SetAdditional("spot_battery_state", battery)
	}
	if messageType := msg.Get("messageType").ToString(); messageType != "" {
		loc.SetAdditional("message_type", messageType)
	}
	return loc
}
