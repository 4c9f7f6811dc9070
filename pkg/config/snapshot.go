// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/twmb/murmur3"
	"golang.org/x/text/unicode/norm"
	yaml "gopkg.in/yaml.v2"
)

// CotTypeMode selects where the CoT type of an encoded event comes from.
type CotTypeMode string

// Accepted cot_type_mode values.
const (
	CotTypeModeStream   CotTypeMode = "stream"
	CotTypeModePerPoint CotTypeMode = "per_point"
)

// OverflowPolicy selects what a full destination queue does with new events.
type OverflowPolicy string

// Accepted overflow_policy values.
const (
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	OverflowDropNewest OverflowPolicy = "drop_newest"
	OverflowBlock      OverflowPolicy = "block"
)

// Protocol is the transport used to reach a TAK server.
type Protocol string

// Accepted protocol values.
const (
	ProtocolTCP Protocol = "tcp"
	ProtocolTLS Protocol = "tls"
)

// Unmapped-tracker handling when callsign mapping is enabled.
const (
	CallsignPassThrough = "pass_through"
	CallsignDrop        = "drop"
)

// TeamMemberSentinel is the cot_type_override value that switches a mapped
// tracker to the ATAK team-member branch instead of a literal CoT type.
const TeamMemberSentinel = "team_member"

// CallsignMapping renames one tracker and optionally overrides its CoT type.
type CallsignMapping struct {
	IdentifierValue  string `yaml:"identifier_value"`
	AssignedCallsign string `yaml:"assigned_callsign,omitempty"`
	CotTypeOverride  string `yaml:"cot_type_override,omitempty"`
	TeamRole         string `yaml:"team_role,omitempty"`
	TeamColor        string `yaml:"team_color,omitempty"`
	Enabled          *bool  `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the mapping is active, defaulting to true.
func (m *CallsignMapping) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// IsTeamMember reports whether the mapping switches to the team-member branch.
func (m *CallsignMapping) IsTeamMember() bool {
	return m.CotTypeOverride == TeamMemberSentinel
}

func (m *CallsignMapping) validate(streamID int, index int) error {
	if m.IdentifierValue == "" {
		return NewConfigurationError("stream %d: callsign_mappings[%d]: identifier_value is required", streamID, index)
	}
	if !m.IsTeamMember() && (m.TeamRole != "" || m.TeamColor != "") {
		return NewConfigurationError("stream %d: callsign_mappings[%d] (%q): team_role/team_color are only valid with cot_type_override %q",
			streamID, index, m.IdentifierValue, TeamMemberSentinel)
	}
	return nil
}

// StreamConfig describes one polling stream of the snapshot.
type StreamConfig struct {
	ID                      int                    `yaml:"id"`
	Name                    string                 `yaml:"name"`
	ProviderKind            string                 `yaml:"provider_kind"`
	ProviderConfig          map[string]interface{} `yaml:"provider_config,omitempty"`
	PollIntervalSeconds     int                    `yaml:"poll_interval_seconds,omitempty"`
	CotTypeDefault          string                 `yaml:"cot_type_default,omitempty"`
	CotStaleSeconds         int                    `yaml:"cot_stale_seconds,omitempty"`
	CotTypeMode             CotTypeMode            `yaml:"cot_type_mode,omitempty"`
	AttachedServerIDs       []int                  `yaml:"attached_server_ids"`
	EnableCallsignMapping   bool                   `yaml:"enable_callsign_mapping,omitempty"`
	CallsignIdentifierField string                 `yaml:"callsign_identifier_field,omitempty"`
	CallsignErrorHandling   string                 `yaml:"callsign_error_handling,omitempty"`
	CallsignMappings        []CallsignMapping      `yaml:"callsign_mappings,omitempty"`
	FlushOnConfigChange     *bool                  `yaml:"flush_on_config_change,omitempty"`
	Active                  *bool                  `yaml:"active,omitempty"`
}

// IsActive reports whether the stream should run, defaulting to true.
func (c *StreamConfig) IsActive() bool {
	return c.Active == nil || *c.Active
}

// PollInterval returns the polling interval as a duration.
func (c *StreamConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// CotStale returns the event staleness horizon as a duration.
func (c *StreamConfig) CotStale() time.Duration {
	return time.Duration(c.CotStaleSeconds) * time.Second
}

// ShouldFlushOnConfigChange reports whether reconfiguring this stream flushes
// the queues of connections it detaches from, defaulting to the service-wide
// setting.
func (c *StreamConfig) ShouldFlushOnConfigChange() bool {
	if c.FlushOnConfigChange != nil {
		return *c.FlushOnConfigChange
	}
	return Bridge.GetBool("defaults.flush_on_config_change")
}

// normalize fills empty fields from the service defaults and sorts the server
// attachments so two equivalent configs hash identically.
func (c *StreamConfig) normalize(conf Config) {
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = conf.GetInt("defaults.poll_interval")
	}
	if c.CotTypeDefault == "" {
		c.CotTypeDefault = conf.GetString("defaults.cot_type")
	}
	if c.CotStaleSeconds == 0 {
		c.CotStaleSeconds = conf.GetInt("defaults.cot_stale")
	}
	if c.CotTypeMode == "" {
		c.CotTypeMode = CotTypeModeStream
	}
	if c.CallsignIdentifierField == "" {
		c.CallsignIdentifierField = conf.GetString("defaults.callsign_identifier_field")
	}
	if c.CallsignErrorHandling == "" {
		c.CallsignErrorHandling = CallsignPassThrough
	}
	sort.Ints(c.AttachedServerIDs)
}

// Validate checks the stream configuration on its own, without looking at
// server attachments.
func (c *StreamConfig) Validate() error {
	if c.Name == "" {
		return NewConfigurationError("stream %d: name is required", c.ID)
	}
	if c.ProviderKind == "" {
		return NewConfigurationError("stream %d (%s): provider_kind is required", c.ID, c.Name)
	}
	if c.PollIntervalSeconds < 1 {
		return NewConfigurationError("stream %d (%s): poll_interval_seconds must be >= 1, got %d", c.ID, c.Name, c.PollIntervalSeconds)
	}
	if c.CotStaleSeconds < 1 {
		return NewConfigurationError("stream %d (%s): cot_stale_seconds must be positive, got %d", c.ID, c.Name, c.CotStaleSeconds)
	}
	if c.CotTypeMode != CotTypeModeStream && c.CotTypeMode != CotTypeModePerPoint {
		return NewConfigurationError("stream %d (%s): cot_type_mode must be %q or %q, got %q", c.ID, c.Name, CotTypeModeStream, CotTypeModePerPoint, c.CotTypeMode)
	}
	if c.CallsignErrorHandling != CallsignPassThrough && c.CallsignErrorHandling != CallsignDrop {
		return NewConfigurationError("stream %d (%s): callsign_error_handling must be %q or %q, got %q", c.ID, c.Name, CallsignPassThrough, CallsignDrop, c.CallsignErrorHandling)
	}
	if c.EnableCallsignMapping && c.CallsignIdentifierField == "" {
		return NewConfigurationError("stream %d (%s): callsign_identifier_field is required when callsign mapping is enabled", c.ID, c.Name)
	}
	seen := make(map[string]int, len(c.CallsignMappings))
	for i := range c.CallsignMappings {
		if err := c.CallsignMappings[i].validate(c.ID, i); err != nil {
			return err
		}
		key := identifierKey(c.CallsignMappings[i].IdentifierValue)
		if prev, taken := seen[key]; taken {
			return NewConfigurationError("stream %d (%s): callsign_mappings[%d] and [%d] both match identifier %q",
				c.ID, c.Name, prev, i, c.CallsignMappings[i].IdentifierValue)
		}
		seen[key] = i
	}
	return nil
}

// identifierKey canonicalises a mapping identifier the way the callsign lookup
// does: trim, lowercase, NFC.
func identifierKey(identifier string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(identifier)))
}

// ValidateAttachments checks the server references of a runnable stream.
func (c *StreamConfig) ValidateAttachments(servers map[int]*TakServerConfig) error {
	if len(c.AttachedServerIDs) == 0 {
		return NewConfigurationError("stream %d (%s): attached_server_ids must not be empty", c.ID, c.Name)
	}
	for _, id := range c.AttachedServerIDs {
		if _, found := servers[id]; !found {
			return NewConfigurationError("stream %d (%s): attached server %d does not exist", c.ID, c.Name, id)
		}
	}
	return nil
}

// Digest returns a hash of the effective stream configuration. Two configs
// with the same digest are interchangeable, which lets Reconfigure treat them
// as a no-op.
func (c *StreamConfig) Digest() uint64 {
	b, err := yaml.Marshal(c)
	if err != nil {
		// yaml.Marshal on these field types cannot fail in practice
		return 0
	}
	return murmur3.Sum64(b)
}

// TakServerConfig describes one TAK server destination of the snapshot.
type TakServerConfig struct {
	ID                 int            `yaml:"id"`
	Name               string         `yaml:"name,omitempty"`
	Host               string         `yaml:"host"`
	Port               int            `yaml:"port"`
	Protocol           Protocol       `yaml:"protocol"`
	P12Certificate     []byte         `yaml:"p12_certificate,omitempty"`
	P12CertificateFile string         `yaml:"p12_certificate_file,omitempty"`
	P12Password        string         `yaml:"p12_password,omitempty"`
	VerifyPeer         *bool          `yaml:"verify_peer,omitempty"`
	QueueCapacity      int            `yaml:"queue_capacity,omitempty"`
	OverflowPolicy     OverflowPolicy `yaml:"overflow_policy,omitempty"`
}

// Address returns the host:port dial target of the server.
func (c *TakServerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ShouldVerifyPeer reports whether the TLS handshake validates the peer
// certificate, defaulting to true.
func (c *TakServerConfig) ShouldVerifyPeer() bool {
	return c.VerifyPeer == nil || *c.VerifyPeer
}

// DisplayName returns the configured name, or the dial address when unset.
func (c *TakServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Address()
}

func (c *TakServerConfig) normalize(conf Config) {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = conf.GetInt("defaults.queue_capacity")
	}
	if c.OverflowPolicy == "" {
		c.OverflowPolicy = OverflowPolicy(conf.GetString("defaults.overflow_policy"))
	}
}

// Validate checks the server configuration.
func (c *TakServerConfig) Validate() error {
	if c.Host == "" {
		return NewConfigurationError("server %d: host is required", c.ID)
	}
	if c.Port < 1 || c.Port > 65535 {
		return NewConfigurationError("server %d (%s): port must be in [1, 65535], got %d", c.ID, c.Host, c.Port)
	}
	if c.Protocol != ProtocolTCP && c.Protocol != ProtocolTLS {
		return NewConfigurationError("server %d (%s): protocol must be %q or %q, got %q", c.ID, c.Host, ProtocolTCP, ProtocolTLS, c.Protocol)
	}
	if c.QueueCapacity < 1 {
		return NewConfigurationError("server %d (%s): queue_capacity must be >= 1, got %d", c.ID, c.Host, c.QueueCapacity)
	}
	switch c.OverflowPolicy {
	case OverflowDropOldest, OverflowDropNewest, OverflowBlock:
	default:
		return NewConfigurationError("server %d (%s): overflow_policy must be one of %q, %q, %q, got %q",
			c.ID, c.Host, OverflowDropOldest, OverflowDropNewest, OverflowBlock, c.OverflowPolicy)
	}
	if len(c.P12Certificate) > 0 && c.P12CertificateFile != "" {
		return NewConfigurationError("server %d (%s): p12_certificate and p12_certificate_file are mutually exclusive", c.ID, c.Host)
	}
	if c.Protocol == ProtocolTCP && (len(c.P12Certificate) > 0 || c.P12CertificateFile != "") {
		return NewConfigurationError("server %d (%s): p12 certificate material requires protocol %q", c.ID, c.Host, ProtocolTLS)
	}
	return nil
}

// Digest returns a hash of the effective server configuration. It is used to
// detect conflicting definitions of one server id and to diff reloads.
func (c *TakServerConfig) Digest() uint64 {
	b, err := yaml.Marshal(c)
	if err != nil {
		// yaml.Marshal on these field types cannot fail in practice
		return 0
	}
	return murmur3.Sum64(b)
}

// Snapshot is the already-decrypted stream and server configuration handed to
// the bridge. The bridge never re-reads it on its own, reloads are driven by
// the run command.
type Snapshot struct {
	Servers []*TakServerConfig `yaml:"tak_servers"`
	Streams []*StreamConfig    `yaml:"streams"`
}

// ServersByID indexes the snapshot servers by id.
func (s *Snapshot) ServersByID() map[int]*TakServerConfig {
	byID := make(map[int]*TakServerConfig, len(s.Servers))
	for _, srv := range s.Servers {
		byID[srv.ID] = srv
	}
	return byID
}

// Stream returns the stream with the given id, or nil.
func (s *Snapshot) Stream(id int) *StreamConfig {
	for _, st := range s.Streams {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// Validate checks every server and stream of the snapshot and returns all
// problems at once. Per-stream attachment errors are included so configcheck
// reports them, but callers loading the snapshot may still run the healthy
// streams.
func (s *Snapshot) Validate() error {
	var errs *multierror.Error
	seenServers := make(map[int]bool)
	for _, srv := range s.Servers {
		if seenServers[srv.ID] {
			errs = multierror.Append(errs, NewConfigurationError("server %d: duplicate id", srv.ID))
			continue
		}
		seenServers[srv.ID] = true
		if err := srv.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	byID := s.ServersByID()
	seenStreams := make(map[int]bool)
	for _, st := range s.Streams {
		if seenStreams[st.ID] {
			errs = multierror.Append(errs, NewConfigurationError("stream %d: duplicate id", st.ID))
			continue
		}
		seenStreams[st.ID] = true
		if err := st.Validate(); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if !st.IsActive() {
			continue
		}
		if err := st.ValidateAttachments(byID); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// ParseSnapshot decodes a snapshot document, fills defaults from the service
// config and validates each object shape. Unknown yaml keys are rejected.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	snapshot := &Snapshot{}
	if err := yaml.UnmarshalStrict(data, snapshot); err != nil {
		return nil, NewConfigurationError("malformed snapshot: %v", err)
	}
	for _, srv := range snapshot.Servers {
		srv.normalize(Bridge)
	}
	for _, st := range snapshot.Streams {
		st.normalize(Bridge)
	}
	return snapshot, nil
}

// LoadSnapshot reads and parses the snapshot file at the given path,
// resolving p12_certificate_file references relative to its directory. When
// the file parses but validation finds problems, both the snapshot and the
// error are returned.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewConfigurationError("cannot read snapshot %s: %v", path, err)
	}
	snapshot, err := ParseSnapshot(data)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	for _, srv := range snapshot.Servers {
		if srv.P12CertificateFile == "" {
			continue
		}
		p12Path := srv.P12CertificateFile
		if !filepath.IsAbs(p12Path) {
			p12Path = filepath.Join(dir, p12Path)
		}
		blob, err := os.ReadFile(p12Path)
		if err != nil {
			return nil, NewConfigurationError("server %d (%s): cannot read p12 certificate %s: %v", srv.ID, srv.Host, p12Path, err)
		}
		srv.P12Certificate = blob
		srv.P12CertificateFile = ""
	}
	if err := snapshot.Validate(); err != nil {
		// The snapshot is still returned: a boot-time caller can run the
		// healthy streams and leave the broken ones to fail individually.
		return snapshot, fmt.Errorf("invalid snapshot %s: %w", path, err)
	}
	return snapshot, nil
}
