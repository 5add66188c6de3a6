package lifecycle

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/chainguard-dev/edurange/internal/o11y"
	"github.com/chainguard-dev/edurange/internal/scenario"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/attribute"
)

const identityPrefix = "edurange:"

// Well-known tag keys written to every resource. 'Name' is well-known within
// AWS itself.
const (
	TagKeyName         = "Name"
	TagKeyInstanceName = "InstanceName"
	TagKeySubnetName   = "SubnetName"
	TagKeyCloudName    = "CloudName"
	TagKeyScenarioName = "ScenarioName"
	TagKeyDateCreated  = "DateCreated"
)

// Tag is a single key-value pair of resource metadata.
type Tag struct {
	Key   string
	Value string
}

// Tags is an ordered tag set.
type Tags []Tag

// Map returns the tags as a map.
func (t Tags) Map() map[string]string {
	m := make(map[string]string, len(t))
	for _, tag := range t {
		m[tag.Key] = tag.Value
	}
	return m
}

// Get returns the value of the tag with the given key.
func (t Tags) Get(key string) (string, bool) {
	for _, tag := range t {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

// Identity names an instance within a scenario, cloud and subnet. Its string
// form is written as the Name tag and used as the discovery filter.
type Identity struct {
	Scenario string
	Cloud    string
	Subnet   string
	Instance string
}

// NewIdentity derives the identity of an instance configuration.
func NewIdentity(cfg *scenario.InstanceConfig) Identity {
	return Identity{
		Scenario: cfg.Scenario().Name,
		Cloud:    cfg.Cloud().Name,
		Subnet:   cfg.Subnet.Name,
		Instance: cfg.Name,
	}
}

func (id Identity) path() string {
	return strings.Join([]string{id.Scenario, id.Cloud, id.Subnet, id.Instance}, "/")
}

// String returns "edurange:<scenario>/<cloud>/<subnet>/<instance>". Names
// cannot contain '/', so distinct identities never collide.
func (id Identity) String() string {
	return identityPrefix + id.path()
}

// Slug returns a lowercase, DNS-safe name for identity. The short hash of the
// raw identity keeps identities apart that differ only in case or punctuation.
func Slug(identity string) string {
	sum := sha256.Sum256([]byte(identity))
	return slug.Make(identity) + "-" + hex.EncodeToString(sum[:4])
}

// ObjectKey is the readiness marker key of the instance.
func (id Identity) ObjectKey() string {
	return id.path() + "/status"
}

// Tags returns the tags written to the instance's compute resource.
func (id Identity) Tags(now time.Time) Tags {
	return append(Tags{{Key: TagKeyName, Value: id.String()}}, id.AddressTags(now)...)
}

// AddressTags returns the descriptive tags written to public addresses
// allocated for the instance.
func (id Identity) AddressTags(now time.Time) Tags {
	return Tags{
		{Key: TagKeyInstanceName, Value: id.Instance},
		{Key: TagKeySubnetName, Value: id.Subnet},
		{Key: TagKeyCloudName, Value: id.Cloud},
		{Key: TagKeyScenarioName, Value: id.Scenario},
		{Key: TagKeyDateCreated, Value: now.UTC().Format(time.RFC3339)},
	}
}

// LogAttrs returns the identity as clog key-value pairs.
func (id Identity) LogAttrs() []any {
	return []any{
		o11y.AttrScenario, id.Scenario,
		o11y.AttrCloud, id.Cloud,
		o11y.AttrSubnet, id.Subnet,
		o11y.AttrInstance, id.Instance,
	}
}

// SpanAttrs returns the identity as span attributes.
func (id Identity) SpanAttrs() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(o11y.AttrScenario, id.Scenario),
		attribute.String(o11y.AttrCloud, id.Cloud),
		attribute.String(o11y.AttrSubnet, id.Subnet),
		attribute.String(o11y.AttrInstance, id.Instance),
	}
}
