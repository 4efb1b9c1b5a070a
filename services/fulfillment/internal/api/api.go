// Package api is the HTTP surface of the fulfillment service.
package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/masukomi/licensezero.com/pkg/authn"
	"github.com/masukomi/licensezero.com/pkg/httpx"
	"github.com/masukomi/licensezero.com/pkg/webhooks"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/domain"
	"github.com/masukomi/licensezero.com/services/fulfillment/internal/workflow"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	engine   *workflow.Engine
	verifier *webhooks.StripeVerifier
	logger   *slog.Logger
	now      func() time.Time
}

// New builds a handler. A nil verifier disables the Stripe webhook route.
func New(engine *workflow.Engine, verifier *webhooks.StripeVerifier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: engine, verifier: verifier, logger: logger, now: time.Now}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Post("/licensors", h.registerLicensor)
	r.Post("/projects", h.offer)
	r.Post("/projects/{projectID}/retract", h.retract)
	r.Post("/waivers", h.issueWaiver)

	r.Post("/orders", h.placeLicenseOrder)
	r.Post("/relicense-orders", h.placeRelicenseOrder)
	r.Post("/pay/{orderID}", h.pay)
	r.Get("/purchases/{purchaseID}", h.getPurchase)

	r.Post("/webhooks/stripe", h.stripeWebhook)
	return r
}

func (h *Handler) registerLicensor(w http.ResponseWriter, r *http.Request) {
	var req workflow.LicensorRegistration
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	creds, err := h.engine.RegisterLicensor(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 201, creds)
}

func (h *Handler) offer(w http.ResponseWriter, r *http.Request) {
	var req workflow.OfferRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	req.Token = licensorToken(r, req.Token)
	projectID, err := h.engine.Offer(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 201, map[string]any{"projectID": projectID})
}

func (h *Handler) retract(w http.ResponseWriter, r *http.Request) {
	var req workflow.RetractRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	req.ProjectID = chi.URLParam(r, "projectID")
	req.Token = licensorToken(r, req.Token)
	if err := h.engine.Retract(r.Context(), req); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"projectID": req.ProjectID, "retracted": true})
}

func (h *Handler) issueWaiver(w http.ResponseWriter, r *http.Request) {
	var req workflow.WaiverRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	req.Token = licensorToken(r, req.Token)
	waiver, err := h.engine.IssueWaiver(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 201, waiver)
}

// licensorToken prefers a token in the body and falls back to a bearer
// Authorization header.
func licensorToken(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	token, _ := authn.ParseBearer(r.Header.Get("Authorization"))
	return token
}

func (h *Handler) placeLicenseOrder(w http.ResponseWriter, r *http.Request) {
	var req workflow.LicenseOrderRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	orderID, err := h.engine.PlaceLicenseOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOrderLocation(w, orderID)
}

func (h *Handler) placeRelicenseOrder(w http.ResponseWriter, r *http.Request) {
	var req workflow.RelicenseOrderRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	orderID, err := h.engine.PlaceRelicenseOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeOrderLocation(w, orderID)
}

func writeOrderLocation(w http.ResponseWriter, orderID string) {
	location := "/pay/" + orderID
	w.Header().Set("Location", location)
	httpx.WriteJSON(w, 201, map[string]any{"orderID": orderID, "location": location})
}

// pay accepts the payment form either as JSON or as a urlencoded form post.
func (h *Handler) pay(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	if _, err := uuid.Parse(orderID); err != nil {
		httpx.WriteJSON(w, 404, workflow.Outcome{Kind: workflow.NotFound, Message: "There is no active purchase at the link you reached."})
		return
	}
	var form workflow.PaymentForm
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := httpx.ReadJSON(w, r, &form); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := r.ParseForm(); err != nil {
			httpx.WriteError(w, 400, "BAD_FORM", err.Error(), nil)
			return
		}
		form = workflow.PaymentForm{Terms: r.PostForm.Get("terms"), Token: r.PostForm.Get("token")}
	}
	out := h.engine.Pay(r.Context(), orderID, form)
	httpx.WriteJSON(w, out.HTTPStatus(), out)
}

func (h *Handler) getPurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "purchaseID")
	if _, err := uuid.Parse(purchaseID); err != nil {
		httpx.WriteError(w, 404, "NOT_FOUND", "purchase not found", nil)
		return
	}
	purchase, err := h.engine.GetPurchase(r.Context(), purchaseID)
	if err != nil {
		if domain.IsNotFound(err) {
			httpx.WriteError(w, 404, "NOT_FOUND", "purchase not found", nil)
			return
		}
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 200, purchase)
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.verifier == nil {
		httpx.WriteError(w, 404, "NOT_FOUND", "webhook endpoint not configured", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(w, 413, "PAYLOAD_TOO_LARGE", "payload exceeds 1MB limit", nil)
			return
		}
		httpx.WriteError(w, 400, "BAD_BODY", err.Error(), nil)
		return
	}
	evt, err := h.verifier.Verify(r.Header, rawBody, h.now().UTC())
	if err != nil {
		h.logger.Warn("rejected gateway webhook", "error", err)
		httpx.WriteError(w, 400, "INVALID_SIGNATURE", err.Error(), nil)
		return
	}
	if err := h.engine.RecordGatewayEvent(r.Context(), evt, webhooks.PayloadHash(rawBody)); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, 200, map[string]any{"status": "accepted", "event_id": evt.ID})
}

// writeError maps the domain error taxonomy onto status codes. Anything
// unclassified is logged and reported generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var v *domain.ValidationError
	var nf *domain.NotFoundError
	var rv *domain.RuleViolation
	switch {
	case errors.As(err, &v):
		fields := make([]httpx.FieldError, 0, len(v.Fields))
		for _, f := range v.Fields {
			fields = append(fields, httpx.FieldError{Name: f.Name, Message: f.Message})
		}
		httpx.WriteFieldErrors(w, "invalid input", fields)
	case errors.As(err, &nf):
		httpx.WriteError(w, 404, "NOT_FOUND", nf.Error(), map[string]any{"ids": nf.IDs})
	case errors.As(err, &rv):
		httpx.WriteError(w, 409, "UNAVAILABLE", rv.Error(), map[string]any{"ids": rv.IDs})
	case errors.Is(err, domain.ErrUnauthorized):
		httpx.WriteError(w, 401, "UNAUTHORIZED", "invalid licensor credentials", nil)
	default:
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		httpx.WriteError(w, 500, "INTERNAL", strings.ToLower(http.StatusText(500)), nil)
	}
}
