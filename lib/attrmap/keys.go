// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package attrmap

// Well-known attribute keys. Senders supply the first group as HTTP
// headers; the receiver sets the second group and senders cannot
// override it.
const (
	Feed          = "Feed"
	Type          = "Type"
	Compression   = "Compression"
	ContentLength = "Content-Length"
	Authorization = "Authorization"
	AccountID     = "AccountId"
	Component     = "Component"
	Format        = "Format"
	EffectiveTime = "EffectiveTime"
	StreamSize    = "StreamSize"

	// OverrideEmbeddedMeta set to "true" makes request attributes win
	// over metadata carried inside a container.
	OverrideEmbeddedMeta = "OverrideEmbeddedMeta"

	RemoteDN         = "RemoteDN"
	RemoteCertExpiry = "RemoteCertExpiry"
	RemoteAddress    = "RemoteAddress"
	RemoteHost       = "RemoteHost"
	ReceivedTime     = "ReceivedTime"
	ReceivedPath     = "ReceivedPath"
	ReceiptID        = "ReceiptId"
	UploadUserID     = "UploadUserId"
	UploadUsername   = "UploadUsername"
)

// ReceiptKeys lists the receiver-owned keys. Metadata carried inside a
// container never replaces these.
var ReceiptKeys = []string{
	RemoteDN,
	RemoteCertExpiry,
	RemoteAddress,
	RemoteHost,
	ReceivedTime,
	ReceivedPath,
	ReceiptID,
	UploadUserID,
	UploadUsername,
}
