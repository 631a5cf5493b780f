package contacthttp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-contact/internal/delivery"
	"github.com/keithlinneman/linnemanlabs-contact/internal/formguard"
	"github.com/keithlinneman/linnemanlabs-contact/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contact/internal/kv"
	"github.com/keithlinneman/linnemanlabs-contact/internal/log"
	"github.com/keithlinneman/linnemanlabs-contact/internal/xerrors"
)

// DefaultDeliveryTimeout bounds a single Sink.Deliver call.
const DefaultDeliveryTimeout = 10 * time.Second

// Metrics is the subset of metrics.ServerMetrics the API reports to.
type Metrics interface {
	ObserveDelivery(result string, d time.Duration)
	IncInvalidSubmission(field string)
}

// Options configures the API.
type Options struct {
	Logger     log.Logger
	Guard      *formguard.Guard
	Persistent kv.Store
	Session    kv.Store
	Sink       delivery.Sink
	Metrics    Metrics

	// InsecureCookies drops the Secure attribute, for local http development only
	InsecureCookies bool
	DeliveryTimeout time.Duration
	Now             func() time.Time
}

// API implements the contact endpoints.
type API struct {
	logger          log.Logger
	guard           *formguard.Guard
	persistent      kv.Store
	session         kv.Store
	sink            delivery.Sink
	metrics         Metrics
	insecureCookies bool
	deliveryTimeout time.Duration
	now             func() time.Time
}

// NewAPI validates opts and returns an API.
func NewAPI(opts Options) (*API, error) {
	if opts.Guard == nil {
		return nil, xerrors.New("contacthttp: guard is required")
	}
	if opts.Persistent == nil || opts.Session == nil {
		return nil, xerrors.New("contacthttp: persistent and session stores are required")
	}
	if opts.Sink == nil {
		return nil, xerrors.New("contacthttp: sink is required")
	}
	api := &API{
		logger:          opts.Logger,
		guard:           opts.Guard,
		persistent:      opts.Persistent,
		session:         opts.Session,
		sink:            opts.Sink,
		metrics:         opts.Metrics,
		insecureCookies: opts.InsecureCookies,
		deliveryTimeout: opts.DeliveryTimeout,
		now:             opts.Now,
	}
	if api.logger == nil {
		api.logger = log.Nop()
	}
	if api.deliveryTimeout <= 0 {
		api.deliveryTimeout = DefaultDeliveryTimeout
	}
	if api.now == nil {
		api.now = time.Now
	}
	return api, nil
}

// RegisterRoutes attaches the contact endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/contact", func(r chi.Router) {
		r.Use(httpmw.Scope("contact"))
		r.Get("/status", api.HandleStatus)
		r.Group(func(r chi.Router) {
			r.Use(requireJSON)
			r.Post("/", api.HandleSubmit)
			r.Post("/session", api.HandleSession)
			r.Post("/interaction", api.HandleInteraction)
		})
	})
}

// SessionResponse is returned when the form mounts.
type SessionResponse struct {
	CanSubmit bool `json:"can_submit"`
	Degraded  bool `json:"degraded"`
}

// StatusResponse reports whether a submission would be accepted now.
type StatusResponse struct {
	CanSubmit         bool `json:"can_submit"`
	RetryAfterSeconds int  `json:"retry_after_seconds"`
}

// SubmitResponse is returned for an accepted submission.
type SubmitResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func (api *API) tracker(w http.ResponseWriter, r *http.Request) (*formguard.Tracker, string) {
	vid, sid := api.identity(w, r)
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("contact.visitor_id", vid))
	return api.guard.Tracker(vid,
		kv.Namespace(api.persistent, "v:"+vid+":"),
		kv.Namespace(api.session, "s:"+sid+":"),
	), vid
}

// HandleSession runs storage hygiene and notes the first interaction.
func (api *API) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, _ := api.tracker(w, r)

	t.Sanitize(ctx)
	t.TrackFormInteraction(ctx)

	d := t.Check(ctx)
	api.writeJSON(ctx, w, http.StatusOK, SessionResponse{
		CanSubmit: d.Allowed,
		Degraded:  d.Degraded || t.Degraded(ctx),
	})
}

// HandleInteraction notes the first interaction with the form.
func (api *API) HandleInteraction(w http.ResponseWriter, r *http.Request) {
	t, _ := api.tracker(w, r)
	t.TrackFormInteraction(r.Context())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusNoContent)
}

// HandleStatus reports whether a submission would currently be accepted.
func (api *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, _ := api.tracker(w, r)

	d := t.Check(ctx)
	resp := StatusResponse{CanSubmit: d.Allowed}
	if !d.Allowed {
		resp.RetryAfterSeconds = retrySeconds(d.RetryAfter)
	}
	api.writeJSON(ctx, w, http.StatusOK, resp)
}

// HandleSubmit validates, rate limits and delivers one message.
func (api *API) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	var req SubmitRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		api.invalid("body")
		L.Debug(ctx, "rejected contact body", "error", err)
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			api.writeJSON(ctx, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	req.normalize()
	if fe := req.validate(); fe != nil {
		api.invalid(fe.Field)
		api.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{Error: fe.Reason, Field: fe.Field})
		return
	}

	t, vid := api.tracker(w, r)

	d := t.TrySubmit(ctx)
	if !d.Allowed {
		L.Info(ctx, "contact submission denied",
			"reason", string(d.Reason),
			"count", d.Count,
			"retry_after", d.RetryAfter.String(),
		)
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds(d.RetryAfter)))
		api.writeJSON(ctx, w, http.StatusTooManyRequests, errorResponse{Error: "too many submissions, try again later"})
		return
	}

	msg := delivery.Message{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Email:      req.Email,
		Company:    req.Company,
		Body:       req.Message,
		VisitorID:  vid,
		RequestID:  httpmw.RequestIDFromContext(ctx),
		ClientIP:   httpmw.ClientIPFromContext(ctx),
		UserAgent:  r.UserAgent(),
		Degraded:   d.Degraded,
		ReceivedAt: api.now().UTC(),
	}
	if e, ok := t.Engagement(ctx); ok {
		msg.EngagementSeconds = math.Round(e.Seconds()*10) / 10
	}

	if err := api.deliver(ctx, msg); err != nil {
		L.Error(ctx, err, "contact delivery failed", "message_id", msg.ID)
		api.writeJSON(ctx, w, http.StatusBadGateway, errorResponse{Error: "message could not be delivered"})
		return
	}

	L.Info(ctx, "contact submission accepted",
		"message_id", msg.ID,
		"count", d.Count,
		"degraded", d.Degraded,
	)
	api.writeJSON(ctx, w, http.StatusAccepted, SubmitResponse{Status: "accepted", ID: msg.ID})
}

func (api *API) deliver(ctx context.Context, m delivery.Message) error {
	// the client going away must not abandon a message that already used its slot
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), api.deliveryTimeout)
	defer cancel()

	start := time.Now()
	err := api.sink.Deliver(ctx, m)
	if api.metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		api.metrics.ObserveDelivery(result, time.Since(start))
	}
	if err != nil {
		return xerrors.Wrap(err, "deliver contact message")
	}
	return nil
}

func (api *API) invalid(field string) {
	if api.metrics != nil {
		api.metrics.IncInvalidSubmission(field)
	}
}

func decodeJSON(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON object")
	}
	return nil
}

// retrySeconds rounds up so a client that waits exactly that long is not denied again.
func retrySeconds(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// requireJSON rejects POSTs that a plain HTML form could send cross-site.
func requireJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mt != "application/json" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_, _ = w.Write([]byte(`{"error":"content type must be application/json"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
