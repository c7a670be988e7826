package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nainya/cfgstore/pkg/client"
	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
)

func writeSetting(c *gin.Context, s *setting.Setting) {
	if s.ETag != "" {
		c.Header(client.HeaderETag, s.ETag)
	}
	c.JSON(http.StatusOK, client.FromSetting(s))
}

func fromSetting(s *setting.Setting) client.KeyValue { return client.FromSetting(s) }

// putSetting handles PUT /kv/*key. If-None-Match: * makes it an add.
func (h *Handler) putSetting(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var body client.PutKeyValue
	if err := c.ShouldBindJSON(&body); err != nil {
		badRequest(c, "invalid body: %v", err)
		return
	}
	in := setting.Setting{
		Key:         key,
		Label:       labelParam(c),
		Value:       body.Value,
		ContentType: body.ContentType,
		Tags:        body.Tags,
	}
	out, err := h.svc.SetSetting(c.Request.Context(), in, conditions(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeSetting(c, out)
}

func (h *Handler) getSetting(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	asOf, err := acceptDatetime(c)
	if err != nil {
		writeError(c, err)
		return
	}
	fields, err := settingFields(c)
	if err != nil {
		writeError(c, err)
		return
	}
	opts := setting.GetOptions{AcceptDatetime: asOf, IfNoneMatch: c.GetHeader(client.HeaderIfNoneMatch)}
	out, err := h.svc.GetSetting(c.Request.Context(), key, labelParam(c), opts, fields)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSetting(c, out)
}

func (h *Handler) deleteSetting(c *gin.Context) {
	key, err := keyParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	cond := setting.Conditions{IfMatch: c.GetHeader(client.HeaderIfMatch)}
	out, err := h.svc.DeleteSetting(c.Request.Context(), key, labelParam(c), cond)
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		c.Status(http.StatusNoContent)
		return
	}
	writeSetting(c, out)
}

func (h *Handler) lock(c *gin.Context)   { h.setReadOnly(c, true) }
func (h *Handler) unlock(c *gin.Context) { h.setReadOnly(c, false) }

func (h *Handler) setReadOnly(c *gin.Context, lock bool) {
	key, err := keyParam(c)
	if err != nil {
		writeError(c, err)
		return
	}
	cond := setting.Conditions{IfMatch: c.GetHeader(client.HeaderIfMatch)}
	out, err := h.svc.SetReadOnly(c.Request.Context(), key, labelParam(c), lock, cond)
	if err != nil {
		writeError(c, err)
		return
	}
	writeSetting(c, out)
}

func (h *Handler) listSettings(c *gin.Context) {
	sel, err := settingSelector(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := pageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.ListSettings(c.Request.Context(), sel, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writePage(c, p, fromSetting)
}

func (h *Handler) listRevisions(c *gin.Context) {
	sel, err := settingSelector(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := pageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	p, err := h.svc.ListRevisions(c.Request.Context(), sel, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writePage(c, p, fromSetting)
}

func (h *Handler) listLabels(c *gin.Context) {
	asOf, err := acceptDatetime(c)
	if err != nil {
		writeError(c, err)
		return
	}
	req, err := pageRequest(c)
	if err != nil {
		writeError(c, err)
		return
	}
	sel := query.LabelSelector{Name: c.Query(client.ParamName), AcceptDatetime: asOf}
	p, err := h.svc.ListLabels(c.Request.Context(), sel, req)
	if err != nil {
		writeError(c, err)
		return
	}
	writePage(c, p, func(l *query.Label) client.Label { return client.Label{Name: l.Name} })
}
