package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"agrihub.org/internal/audit"
	"agrihub.org/internal/auth"
	"agrihub.org/internal/store"
	"agrihub.org/internal/stream"
)

// collectionModules maps a record collection to the permission module gating
// it. Collections outside this map are not exposed over HTTP.
var collectionModules = map[string]string{
	"crops":       auth.ModuleCrop,
	"fields":      auth.ModuleField,
	"devices":     auth.ModuleDevice,
	"contacts":    auth.ModuleContacts,
	"accounts":    auth.ModuleAccount,
	"sensor_data": auth.ModuleDataAddition,
	"form_data":   auth.ModuleDataAddition,
}

// handleRecords serves /records/{collection} (POST, GET) and
// /records/{collection}/{id} (GET, PUT, DELETE). Every access is scoped to
// the caller's tenant: writes stamp client_id, reads filter by it.
func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/records/"), "/")
	if rest == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	collection, id, _ := strings.Cut(rest, "/")
	if strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	module, ok := collectionModules[collection]
	if !ok {
		writeError(w, r, http.StatusNotFound, fmt.Sprintf("unknown collection %q", collection))
		return
	}

	if id == "" {
		switch r.Method {
		case http.MethodPost:
			a.createRecord(w, r, collection, module)
		case http.MethodGet:
			a.listRecords(w, r, collection, module)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
		return
	}
	switch r.Method {
	case http.MethodGet:
		a.getRecord(w, r, collection, module, id)
	case http.MethodPut:
		a.updateRecord(w, r, collection, module, id)
	case http.MethodDelete:
		a.deleteRecord(w, r, collection, module, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) createRecord(w http.ResponseWriter, r *http.Request, collection, module string) {
	if !a.requirePermission(w, r, module, auth.ActionCreate) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	var doc store.Doc
	if err := decodeJSON(w, r, &doc); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(doc) == 0 {
		writeError(w, r, http.StatusBadRequest, "record body is required")
		return
	}
	delete(doc, store.IDField)
	doc["client_id"] = claims.User.ClientID
	doc["created_by"] = claims.User.UserName
	doc["created_dt"] = time.Now().UTC()

	id, err := a.records.Insert(r.Context(), collection, doc)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.events.Publish(stream.Event{
		Collection: collection,
		RecordID:   id,
		ClientID:   claims.User.ClientID,
		Action:     "created",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Record added successfully",
		"id":      id,
	})
}

func (a *API) listRecords(w http.ResponseWriter, r *http.Request, collection, module string) {
	if !a.requirePermission(w, r, module, auth.ActionRead) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	docs, err := a.records.Find(r.Context(), collection, store.Filter{
		"client_id": claims.User.ClientID,
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// fetchScopedRecord loads the record and enforces tenant ownership. A record
// belonging to another tenant reads as not found, never as forbidden.
func (a *API) fetchScopedRecord(ctx context.Context, collection, id, clientID string) (store.Doc, error) {
	doc, err := a.records.FindOne(ctx, collection, store.ByID(id))
	if err != nil {
		return nil, err
	}
	owner, _ := doc["client_id"].(string)
	if owner != clientID {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func (a *API) getRecord(w http.ResponseWriter, r *http.Request, collection, module, id string) {
	if !a.requirePermission(w, r, module, auth.ActionRead) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	doc, err := a.fetchScopedRecord(r.Context(), collection, id, claims.User.ClientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "record not found")
			return
		}
		handleIdentityError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) updateRecord(w http.ResponseWriter, r *http.Request, collection, module, id string) {
	if !a.requirePermission(w, r, module, auth.ActionUpdate) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if _, err := a.fetchScopedRecord(r.Context(), collection, id, claims.User.ClientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "record not found")
			return
		}
		handleIdentityError(w, r, err)
		return
	}
	var set store.Doc
	if err := decodeJSON(w, r, &set); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(set) == 0 {
		writeError(w, r, http.StatusBadRequest, "no fields to update")
		return
	}
	delete(set, store.IDField)
	delete(set, "client_id")
	set["updated_by"] = claims.User.UserName
	set["updated_dt"] = time.Now().UTC()

	n, err := a.records.Update(r.Context(), collection, store.ByID(id), set)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if n > 0 {
		a.events.Publish(stream.Event{
			Collection: collection,
			RecordID:   id,
			ClientID:   claims.User.ClientID,
			Action:     "updated",
		})
	}
	msg := "No changes made"
	if n > 0 {
		msg = "Record updated successfully"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "message": msg})
}

func (a *API) deleteRecord(w http.ResponseWriter, r *http.Request, collection, module, id string) {
	if !a.requirePermission(w, r, module, auth.ActionDelete) {
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if _, err := a.fetchScopedRecord(r.Context(), collection, id, claims.User.ClientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "record not found")
			return
		}
		handleIdentityError(w, r, err)
		return
	}
	if _, err := a.records.Delete(r.Context(), collection, store.ByID(id)); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	a.events.Publish(stream.Event{
		Collection: collection,
		RecordID:   id,
		ClientID:   claims.User.ClientID,
		Action:     "deleted",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "Record deleted successfully",
	})
}

// handleFieldFeature serves PUT /fields/{id}/status and /fields/{id}/cost,
// the two sub-feature routes that bypass the module-level Field grant in
// favor of their own feature action sets.
func (a *API) handleFieldFeature(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/fields/"), "/")
	id, feature, _ := strings.Cut(rest, "/")
	if id == "" || strings.Contains(feature, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}

	var featureName, fieldKey string
	switch feature {
	case "status":
		featureName = auth.FeatureFieldStatusUpdate
		fieldKey = "status"
	case "cost":
		featureName = auth.FeatureFieldCostUpdate
		fieldKey = "cost"
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if !a.requireFeaturePermission(w, r, auth.ModuleField, featureName, auth.ActionUpdate) {
		return
	}

	var body map[string]json.RawMessage
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	value, ok := body[fieldKey]
	if !ok {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("%s is required", fieldKey))
		return
	}
	var decoded any
	if err := json.Unmarshal(value, &decoded); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid %s value", fieldKey))
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	if _, err := a.fetchScopedRecord(r.Context(), "fields", id, claims.User.ClientID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "field not found")
			return
		}
		handleIdentityError(w, r, err)
		return
	}

	_, err := a.records.Update(r.Context(), "fields", store.ByID(id), store.Doc{
		fieldKey:     decoded,
		"updated_by": claims.User.UserName,
		"updated_dt": time.Now().UTC(),
	})
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "field."+fieldKey+"_updated", map[string]any{
		"field_id": id,
	})
	a.events.Publish(stream.Event{
		Collection: "fields",
		RecordID:   id,
		ClientID:   claims.User.ClientID,
		Action:     fieldKey + "_updated",
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Field %s updated successfully", fieldKey),
	})
}

// handleEvents streams record-change events to the caller as SSE. Only
// events scoped to the caller's tenant are forwarded.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusForbidden, "authentication required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.events.Subscribe(r.Context())
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case evt, open := <-events:
			if !open {
				return
			}
			if evt.ClientID != "" && evt.ClientID != claims.User.ClientID {
				continue
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
