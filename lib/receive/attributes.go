// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receive

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/intake/lib/attrmap"
)

// wellKnownKeys restores the documented spelling of keys that
// net/http canonicalises ("Accountid" becomes "AccountId").
var wellKnownKeys = func() map[string]string {
	keys := []string{
		attrmap.Feed, attrmap.Type, attrmap.Compression, attrmap.ContentLength,
		attrmap.Authorization, attrmap.AccountID, attrmap.Component, attrmap.Format,
		attrmap.EffectiveTime, attrmap.StreamSize, attrmap.OverrideEmbeddedMeta,
	}
	keys = append(keys, attrmap.ReceiptKeys...)
	spellings := make(map[string]string, len(keys))
	for _, key := range keys {
		spellings[strings.ToLower(key)] = key
	}
	return spellings
}()

// hopByHop headers describe the connection, not the data.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"proxy-connection":    true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"expect":              true,
}

func attributeKey(name string) string {
	if known, ok := wellKnownKeys[strings.ToLower(name)]; ok {
		return known
	}
	return name
}

// requestAttributes collects the sender-supplied attributes: every
// header except hop-by-hop ones, then query parameters for keys no
// header set. Receiver-owned keys are stripped; with trustProxy the
// certificate keys a TLS-terminating proxy sets are kept.
func requestAttributes(request *http.Request, trustProxy bool) *attrmap.Map {
	attributes := attrmap.New()
	for name, values := range request.Header {
		if hopByHop[strings.ToLower(name)] {
			continue
		}
		attributes.Put(attributeKey(name), strings.Join(values, ","))
	}
	if request.ContentLength >= 0 {
		attributes.Put(attrmap.ContentLength, strconv.FormatInt(request.ContentLength, 10))
	} else {
		attributes.Remove(attrmap.ContentLength)
	}

	query := attrmap.New()
	for name, values := range request.URL.Query() {
		if len(values) > 0 {
			query.Put(attributeKey(name), values[0])
		}
	}
	query.Remove(attrmap.Authorization)
	attrmap.MergeFillAbsent(attributes, query)

	for _, key := range attrmap.ReceiptKeys {
		switch {
		case key == attrmap.ReceivedPath:
		case trustProxy && (key == attrmap.RemoteDN || key == attrmap.RemoteCertExpiry):
		default:
			attributes.Remove(key)
		}
	}
	return attributes
}

// receiptAttributes are the values the receiver stamps on every
// request.
type receiptAttributes struct {
	receiptID     string
	receivedTime  time.Time
	hostname      string
	remoteAddress string
	remoteHost    string
}

func (r receiptAttributes) apply(request *http.Request, attributes *attrmap.Map) {
	attributes.Put(attrmap.ReceiptID, r.receiptID)
	attributes.Put(attrmap.ReceivedTime, r.receivedTime.UTC().Format(receivedTimeLayout))
	attributes.Put(attrmap.RemoteAddress, r.remoteAddress)
	attributes.Put(attrmap.RemoteHost, r.remoteHost)

	if r.hostname != "" {
		path := attributes.Get(attrmap.ReceivedPath)
		if path != "" {
			path += ","
		}
		attributes.Put(attrmap.ReceivedPath, path+r.hostname)
	}

	if request.TLS != nil && len(request.TLS.PeerCertificates) > 0 {
		certificate := request.TLS.PeerCertificates[0]
		attributes.Put(attrmap.RemoteDN, certificate.Subject.String())
		attributes.Put(attrmap.RemoteCertExpiry, certificate.NotAfter.UTC().Format(receivedTimeLayout))
	}
}

// receivedTimeLayout is ISO 8601 in UTC with milliseconds.
const receivedTimeLayout = "2006-01-02T15:04:05.000Z"
