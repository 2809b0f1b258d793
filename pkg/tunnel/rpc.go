package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/turnpike/pkg/jsonrpc"
	"mercator-hq/turnpike/pkg/ledger"
	"mercator-hq/turnpike/pkg/telemetry/logging"
	"mercator-hq/turnpike/pkg/telemetry/metrics"
	"mercator-hq/turnpike/pkg/telemetry/tracing"
	"mercator-hq/turnpike/pkg/voucher"
)

// Control method names.
const (
	MethodGet = "net_get"
	MethodTip = "net_tip"
)

// Call is one control request as seen by a Method.
type Call struct {
	// Session is the id of the calling session.
	Session string

	// Params are the raw positional parameters.
	Params []json.RawMessage
}

// Method handles one control call. Returning a *jsonrpc.Error sends that
// error to the caller; any other error becomes an internal error.
type Method func(ctx context.Context, call *Call) (any, error)

// Settler accepts handed-off batches for background settlement.
// settlement.Dispatcher implements it.
type Settler interface {
	Dispatch(batch *ledger.Batch) (string, error)
}

// RPC dispatches control calls for every session of a gateway.
type RPC struct {
	ledger  *ledger.Ledger
	book    *BalanceBook
	settler Settler
	metrics *metrics.Collector
	logger  *slog.Logger
	methods map[string]Method
}

// NewRPC creates the control dispatcher with net_get and net_tip registered.
// A nil collector disables metrics.
func NewRPC(l *ledger.Ledger, book *BalanceBook, settler Settler, collector *metrics.Collector, logger *slog.Logger) *RPC {
	if logger == nil {
		logger = slog.Default()
	}
	r := &RPC{
		ledger:  l,
		book:    book,
		settler: settler,
		metrics: collector,
		logger:  logger.With("component", "rpc"),
		methods: make(map[string]Method),
	}
	r.Register(MethodGet, r.netGet)
	r.Register(MethodTip, r.netTip)
	return r
}

// Register adds or replaces a method. It must not be called while sessions
// are being served.
func (r *RPC) Register(name string, m Method) {
	r.methods[name] = m
}

// Handle processes one text frame and returns the encoded response.
func (r *RPC) Handle(ctx context.Context, session string, frame []byte) []byte {
	resp := r.handle(ctx, session, frame)
	out, err := json.Marshal(resp)
	if err != nil {
		// Results are built from plain values; this only fires on a bug.
		r.logger.Error("failed to encode response", "error", err)
		out, _ = json.Marshal(jsonrpc.NewErrorResponse(resp.ID, jsonrpc.InternalError("encode response")))
	}
	return out
}

func (r *RPC) handle(ctx context.Context, session string, frame []byte) *jsonrpc.Response {
	req, err := jsonrpc.ParseRequest(frame)
	if err != nil {
		rpcErr := jsonrpc.AsError(err)
		id := jsonrpc.NullID
		if req != nil {
			id = req.ID
		}
		r.metrics.RecordRPC("invalid", outcome(rpcErr))
		return jsonrpc.NewErrorResponse(id, rpcErr)
	}

	method, ok := r.methods[req.Method]
	if !ok {
		r.metrics.RecordRPC(req.Method, strconv.Itoa(jsonrpc.CodeMethodNotFound))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.MethodNotFound(req.Method))
	}

	ctx, span := tracing.Start(ctx, "rpc "+req.Method,
		trace.WithAttributes(attribute.String(tracing.AttrRPCMethod, req.Method)))
	defer span.End()

	result, err := method(ctx, &Call{Session: session, Params: req.Params})
	if err != nil {
		rpcErr := jsonrpc.AsError(err)
		tracing.SetError(span, rpcErr.Message, attribute.Int(tracing.AttrRPCErrorCode, rpcErr.Code))
		if rpcErr.Code == jsonrpc.CodeInternalError {
			logging.FromContext(ctx, r.logger).Error("control call failed",
				"method", req.Method, "error", err)
		}
		r.metrics.RecordRPC(req.Method, outcome(rpcErr))
		return jsonrpc.NewErrorResponse(req.ID, rpcErr)
	}

	resp, err := jsonrpc.NewResult(req.ID, result)
	if err != nil {
		r.metrics.RecordRPC(req.Method, strconv.Itoa(jsonrpc.CodeInternalError))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.InternalError("%v", err))
	}
	r.metrics.RecordRPC(req.Method, "ok")
	return resp
}

func outcome(err *jsonrpc.Error) string {
	return strconv.Itoa(err.Code)
}

func (r *RPC) netGet(_ context.Context, _ *Call) (any, error) {
	p := r.ledger.Params()
	return voucher.NewParams(p.Context, p.Threshold), nil
}

// netTip credits one secret or a batch of secrets to the calling session.
func (r *RPC) netTip(ctx context.Context, call *Call) (any, error) {
	if len(call.Params) != 1 {
		return nil, jsonrpc.InvalidParams("expected one parameter, got %d", len(call.Params))
	}
	raw := call.Params[0]

	var (
		acc   *ledger.Acceptance
		err   error
		batch bool
	)

	var single string
	if json.Unmarshal(raw, &single) == nil {
		secret, decErr := voucher.DecodeSecret(single)
		if decErr != nil {
			r.metrics.RecordVoucher("invalid", 0)
			return nil, jsonrpc.InvalidParams("%v", decErr)
		}
		acc, err = r.ledger.AcceptSecret(secret)
	} else {
		var list []string
		if jsonErr := json.Unmarshal(raw, &list); jsonErr != nil {
			return nil, jsonrpc.InvalidParams("expected a secret or an array of secrets")
		}
		batch = true
		secrets := make([][]byte, len(list))
		for i, s := range list {
			secret, decErr := voucher.DecodeSecret(s)
			if decErr != nil {
				r.metrics.RecordVoucher("invalid", 0)
				return nil, jsonrpc.InvalidParams("secret %d: %v", i, decErr)
			}
			secrets[i] = secret
		}
		acc, err = r.ledger.AcceptSecrets(secrets)
	}

	if err != nil {
		return nil, r.tipError(err, batch)
	}

	balance := r.book.Credit(call.Session, acc.Value)
	value, _ := new(big.Float).SetInt(acc.Value).Float64()
	r.metrics.RecordVoucher("accepted", value)

	logging.FromContext(ctx, r.logger).Debug("credited session",
		"value", acc.Value.String(),
		"secrets", acc.Accepted,
		"balance", balance.String())

	if acc.Handoff != nil {
		r.handoff(ctx, acc.Handoff)
	}
	r.updateLedgerGauges()

	return acc.Value.String(), nil
}

func (r *RPC) tipError(err error, batch bool) error {
	switch {
	case errors.Is(err, ledger.ErrBelowMinimum):
		r.metrics.RecordVoucher("below_minimum", 0)
		if batch {
			return jsonrpc.InvalidRequest("%v", err)
		}
		return jsonrpc.InvalidParams("%v", err)
	case errors.Is(err, ledger.ErrDuplicateSecret):
		r.metrics.RecordVoucher("duplicate", 0)
		return jsonrpc.InvalidParams("%v", err)
	case errors.Is(err, ledger.ErrInvalidSecret),
		errors.Is(err, ledger.ErrEmptyBatch),
		errors.Is(err, ledger.ErrBatchTooLarge):
		r.metrics.RecordVoucher("invalid", 0)
		return jsonrpc.InvalidParams("%v", err)
	default:
		return err
	}
}

// handoff passes a full batch to the settler. The caller's response never
// waits on settlement.
func (r *RPC) handoff(ctx context.Context, batch *ledger.Batch) {
	logger := logging.FromContext(ctx, r.logger)
	if r.settler == nil {
		logger.Warn("no settler configured, dropping batch", "secrets", batch.Len(), "total", batch.Total.String())
		return
	}
	id, err := r.settler.Dispatch(batch)
	if err != nil {
		logger.Error("failed to dispatch batch", "error", logging.Cause(err), "secrets", batch.Len())
		return
	}
	logger.Info("batch handed off", "batch_id", id, "secrets", batch.Len(), "total", batch.Total.String())
}

func (r *RPC) updateLedgerGauges() {
	stats := r.ledger.Stats()
	threshold, _ := new(big.Float).SetInt(stats.Threshold).Float64()
	r.metrics.UpdateLedger(stats.Pending, threshold, stats.Epoch)
}
