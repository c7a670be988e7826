package rest

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nainya/cfgstore/pkg/client"
	"github.com/nainya/cfgstore/pkg/setting"
	"github.com/nainya/cfgstore/pkg/snapshot"
)

func writeSnapshot(c *gin.Context, status int, s *snapshot.Snapshot) {
	if s.ETag != "" {
		c.Header(client.HeaderETag, s.ETag)
	}
	c.JSON(status, client.FromSnapshot(s))
}

// createSnapshot handles PUT /snapshots/:name. Creation continues in the
// background; the Operation-Location header points at its status.
func (h *Handler) createSnapshot(c *gin.Context) {
	var body client.CreateSnapshot
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	if body.RetentionPeriod < 0 {
		badRequest(c, "retention_period must not be negative")
		return
	}
	spec := snapshot.Spec{
		Filters:         client.Filters(body.Filters),
		Composition:     snapshot.Composition(body.CompositionType),
		RetentionPeriod: time.Duration(body.RetentionPeriod) * time.Second,
		Tags:            body.Tags,
	}
	poller, err := h.svc.CreateSnapshot(c.Request.Context(), c.Param("name"), spec)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := poller.Poll(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header(client.HeaderOperationLocation, "/operations/"+poller.ID())
	c.JSON(http.StatusAccepted, client.FromPollResult(poller.ID(), res))
}

func (h *Handler) getOperation(c *gin.Context) {
	id := c.Param("id")
	res, err := h.svc.Operation(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, client.FromPollResult(id, res))
}

func (h *Handler) getSnapshot(c *gin.Context) {
	fields, err := snapshot.ParseFields(c.Query(client.ParamSelect))
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := h.svc.GetSnapshot(c.Request.Context(), c.Param("name"), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSnapshot(c, http.StatusOK, out)
}

// patchSnapshot archives or recovers a snapshot.
func (h *Handler) patchSnapshot(c *gin.Context) {
	var body client.PatchSnapshot
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	cond := setting.Conditions{IfMatch: c.GetHeader(client.HeaderIfMatch)}
	var (
		out *snapshot.Snapshot
		err error
	)
	switch snapshot.Status(body.Status) {
	case snapshot.StatusArchived:
		out, err = h.svc.ArchiveSnapshot(c.Request.Context(), c.Param("name"), cond)
	case snapshot.StatusReady:
		out, err = h.svc.RecoverSnapshot(c.Request.Context(), c.Param("name"), cond)
	default:
		badRequest(c, "status must be %q or %q", snapshot.StatusArchived, snapshot.StatusReady)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	writeSnapshot(c, http.StatusOK, out)
}

func (h *Handler) listSnapshots(c *gin.Context) {
	fields, err := snapshot.ParseFields(c.Query(client.ParamSelect))
	if err != nil {
		writeError(c, err)
		return
	}
	sel := snapshot.Selector{Name: c.Query(client.ParamName), Fields: fields}
	if v := c.Query(client.ParamStatus); v != "" {
		for _, part := range strings.Split(v, ",") {
			st, err := snapshot.ParseStatus(strings.TrimSpace(part))
			if err != nil {
				writeError(c, err)
				return
			}
			sel.Statuses = append(sel.Statuses, st)
		}
	}
	req, err := pageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.ListSnapshots(c.Request.Context(), sel, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writePage(c, p, func(s *snapshot.Snapshot) *client.Snapshot { return client.FromSnapshot(s) })
}

func (h *Handler) listSnapshotSettings(c *gin.Context) {
	fields, err := settingFields(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := pageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.ListSnapshotSettings(c.Request.Context(), c.Param("name"), fields, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writePage(c, p, fromSetting)
}
