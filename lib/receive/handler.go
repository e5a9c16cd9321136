// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package receive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/authn"
	"github.com/bureau-foundation/intake/lib/clock"
	"github.com/bureau-foundation/intake/lib/demux"
	"github.com/bureau-foundation/intake/lib/filter"
	"github.com/bureau-foundation/intake/lib/netutil"
	"github.com/bureau-foundation/intake/lib/policy"
	"github.com/bureau-foundation/intake/lib/status"
)

// ReceiptIDHeader carries the receipt id on every response.
const ReceiptIDHeader = "Receipt-Id"

// Authenticator resolves a request's sender. Satisfied by
// *authn.Chain.
type Authenticator interface {
	Authenticate(request *http.Request, attributes *attrmap.Map) (authn.Identity, *status.Error)
}

// Processor writes a request body to targets. Satisfied by
// *demux.Processor.
type Processor interface {
	Process(ctx context.Context, request demux.Request) (demux.Summary, *status.Error)
}

// Config configures a Handler.
type Config struct {
	Authenticator Authenticator
	Processor     Processor

	// Filter decides whether the request's data is kept. Nil
	// receives everything.
	Filter filter.Filter

	// Hostname is appended to ReceivedPath.
	Hostname string

	// Resolver fills RemoteHost. Nil records the address itself.
	Resolver *netutil.HostResolver

	// TrustProxyHeaders accepts X-Forwarded-For, RemoteDN and
	// RemoteCertExpiry from the request.
	TrustProxyHeaders bool

	Clock   clock.Clock
	Metrics *Metrics
	Logger  *slog.Logger
}

// Handler serves POST /datafeed. Each request runs authentication,
// then the filter, then the data-feed key's feed restriction, and
// only then reads the body.
type Handler struct {
	authenticator     Authenticator
	processor         Processor
	filter            filter.Filter
	hostname          string
	resolver          *netutil.HostResolver
	trustProxyHeaders bool
	clock             clock.Clock
	metrics           *Metrics
	logger            *slog.Logger
}

// NewHandler returns a Handler for config. Authenticator and Processor
// are required.
func NewHandler(config Config) *Handler {
	if config.Authenticator == nil {
		panic("receive.Handler: Authenticator is required")
	}
	if config.Processor == nil {
		panic("receive.Handler: Processor is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		authenticator:     config.Authenticator,
		processor:         config.Processor,
		filter:            filter.Wrap(config.Filter),
		hostname:          config.Hostname,
		resolver:          config.Resolver,
		trustProxyHeaders: config.TrustProxyHeaders,
		clock:             config.Clock,
		metrics:           config.Metrics,
		logger:            config.Logger,
	}
}

func (h *Handler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	done := h.metrics.started()
	defer done()

	start := h.clock.Now()
	ctx := request.Context()

	receiptID, err := uuid.NewV7()
	if err != nil {
		h.logger.Error("generating receipt id", "error", err)
		h.respond(writer, "", status.Wrap(status.UnknownError, err, ""))
		return
	}
	receipt := receiptAttributes{
		receiptID:     receiptID.String(),
		receivedTime:  start,
		hostname:      h.hostname,
		remoteAddress: netutil.RemoteAddress(request, h.trustProxyHeaders),
	}
	receipt.remoteHost = receipt.remoteAddress
	if h.resolver != nil {
		receipt.remoteHost = h.resolver.Resolve(ctx, receipt.remoteAddress)
	}

	attributes := requestAttributes(request, h.trustProxyHeaders)
	receipt.apply(request, attributes)
	logger := h.logger.With("receipt_id", receipt.receiptID, "remote_address", receipt.remoteAddress)

	outcome, summary, failure := h.receive(ctx, request, attributes, logger)
	elapsed := h.clock.Now().Sub(start)
	h.metrics.observe(outcome, failure, summary, elapsed)

	switch outcome {
	case outcomeReceived:
		logger.Info("data received",
			"feed", attributes.Get(attrmap.Feed),
			"sender", attributes.Get(attrmap.UploadUserID),
			"records", summary.Records,
			"dropped_records", summary.Dropped,
			"targets", summary.Targets,
			"bytes", summary.Bytes,
			"duration", elapsed)
	case outcomeDropped:
		logger.Info("data dropped", "feed", attributes.Get(attrmap.Feed))
	case outcomeAborted:
		logger.Info("upload abandoned by sender", "feed", attributes.Get(attrmap.Feed), "error", failure)
	case outcomeRejected:
		logger.Warn("data rejected",
			"feed", attributes.Get(attrmap.Feed), "code", failure.Code.String(), "error", failure)
	default:
		logger.Error("receipt failed", "feed", attributes.Get(attrmap.Feed), "error", failure)
	}

	h.respond(writer, receipt.receiptID, failure)
}

// receive runs the pipeline and classifies its outcome.
func (h *Handler) receive(ctx context.Context, request *http.Request, attributes *attrmap.Map, logger *slog.Logger) (string, demux.Summary, *status.Error) {
	identity, authErr := h.authenticator.Authenticate(request, attributes)
	if authErr != nil {
		return outcomeRejected, demux.Summary{}, authErr
	}

	switch result := h.admit(ctx, identity, attributes); result.Action {
	case policy.Drop:
		return outcomeDropped, demux.Summary{}, nil
	case policy.Reject:
		return outcomeRejected, demux.Summary{}, rejection(result, attributes)
	}

	summary, processErr := h.processor.Process(ctx, demux.Request{
		Attributes: attributes,
		Body:       request.Body,
		Admit: func(ctx context.Context, record *attrmap.Map) filter.Result {
			result := h.admit(ctx, identity, record)
			if result.Action == policy.Drop {
				logger.Debug("record dropped", "feed", record.Get(attrmap.Feed))
			}
			return result
		},
	})
	switch {
	case processErr == nil:
		return outcomeReceived, summary, nil
	case netutil.IsClientGone(processErr) || ctx.Err() != nil:
		return outcomeAborted, summary, processErr
	case processErr.Code == status.UnknownError:
		return outcomeFailed, summary, processErr
	default:
		return outcomeRejected, summary, processErr
	}
}

// admit applies the filter, then the identity's feed restriction.
func (h *Handler) admit(ctx context.Context, identity authn.Identity, attributes *attrmap.Map) filter.Result {
	result := h.filter.Filter(ctx, attributes)
	if result.Action != policy.Receive {
		return result
	}
	if feed := attributes.Get(attrmap.Feed); !identity.AllowsFeed(feed) {
		return filter.Reject(status.New(status.ClientDataFeedKeyNotAuthorised, feed))
	}
	return result
}

func rejection(result filter.Result, attributes *attrmap.Map) *status.Error {
	if result.Err != nil {
		return result.Err
	}
	return status.New(status.RejectedByPolicyRules, attributes.Get(attrmap.Feed))
}

// respond writes "<number> - <message>" with the code's HTTP status.
func (h *Handler) respond(writer http.ResponseWriter, receiptID string, failure *status.Error) {
	header := writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	if receiptID != "" {
		header.Set(ReceiptIDHeader, receiptID)
	}
	message := fmt.Sprintf("%d - %s", status.OK.Number(), status.OK.Message())
	code := http.StatusOK
	if failure != nil {
		message = failure.ClientMessage()
		code = failure.Code.HTTPStatus()
		if failure.Code == status.UnknownError {
			// Causes of internal failures stay in the log.
			message = fmt.Sprintf("%d - %s", failure.Code.Number(), failure.Code.Message())
		}
	}
	writer.WriteHeader(code)
	io.WriteString(writer, message+"\n")
}
