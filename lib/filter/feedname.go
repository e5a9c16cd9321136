// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/status"
)

// DefaultFeedNameTemplate derives a feed from account and component.
const DefaultFeedNameTemplate = "${AccountId}-${Component}-EVENTS"

// DefaultAllowedTypes are the stream types accepted with generated
// feed names.
var DefaultAllowedTypes = []string{"Raw Events", "Events", "Raw Reference", "Reference"}

var (
	templateVariable = regexp.MustCompile(`\$\{([^}]+)\}`)
	feedNamePattern  = regexp.MustCompile(`^[A-Z0-9_-]+$`)
	unsafeCharacters = regexp.MustCompile(`[^A-Z0-9]`)
)

// FeedNameConfig configures a FeedNameFilter.
type FeedNameConfig struct {
	// AutoGenerate derives a missing Feed from Template. Without it a
	// missing Feed is rejected.
	AutoGenerate bool

	// Template is expanded with ${Attribute} references. Defaults to
	// DefaultFeedNameTemplate.
	Template string

	// AllowedTypes restricts a supplied Type attribute. Defaults to
	// DefaultAllowedTypes.
	AllowedTypes []string

	// DefaultType is set when Type is absent. Empty leaves Type unset.
	DefaultType string
}

// FeedNameFilter makes sure Feed is present, generating it when
// configured to, and checks Type against the allowed types.
type FeedNameFilter struct {
	autoGenerate bool
	template     string
	variables    []string
	allowedTypes []string
	defaultType  string
}

// NewFeedNameFilter returns a FeedNameFilter for config.
func NewFeedNameFilter(config FeedNameConfig) *FeedNameFilter {
	if config.Template == "" {
		config.Template = DefaultFeedNameTemplate
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = DefaultAllowedTypes
	}
	var variables []string
	for _, match := range templateVariable.FindAllStringSubmatch(config.Template, -1) {
		variables = append(variables, match[1])
	}
	return &FeedNameFilter{
		autoGenerate: config.AutoGenerate,
		template:     config.Template,
		variables:    variables,
		allowedTypes: config.AllowedTypes,
		defaultType:  config.DefaultType,
	}
}

func (f *FeedNameFilter) Kind() Kind { return KindFeedName }

func (f *FeedNameFilter) Filter(_ context.Context, attributes *attrmap.Map) Result {
	feed := attributes.Get(attrmap.Feed)
	if feed == "" {
		if !f.autoGenerate {
			return Reject(status.New(status.FeedMustBeSpecified, ""))
		}
		for _, variable := range f.variables {
			if attributes.Get(variable) == "" {
				return Reject(status.Errorf(status.FeedMustBeSpecified,
					"%s is required to derive a feed name", variable))
			}
		}
		feed = f.generate(attributes)
		if !feedNamePattern.MatchString(feed) {
			return Reject(status.Errorf(status.InvalidFeedName, "%q", feed))
		}
		attributes.Put(attrmap.Feed, feed)
	}

	typeName := attributes.Get(attrmap.Type)
	if typeName == "" {
		if f.defaultType != "" {
			attributes.Put(attrmap.Type, f.defaultType)
		}
		return Receive()
	}
	if !slices.Contains(f.allowedTypes, typeName) {
		return Reject(status.Errorf(status.UnexpectedDataType, "%q", typeName))
	}
	return Receive()
}

// generate expands the template. Each substituted value is upper-cased
// with anything outside [A-Z0-9] replaced by '_'.
func (f *FeedNameFilter) generate(attributes *attrmap.Map) string {
	expanded := templateVariable.ReplaceAllStringFunc(f.template, func(reference string) string {
		name := reference[2 : len(reference)-1]
		value := strings.ToUpper(attributes.Get(name))
		return unsafeCharacters.ReplaceAllString(value, "_")
	})
	return strings.ToUpper(expanded)
}
