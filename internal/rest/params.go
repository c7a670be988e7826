package rest

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nainya/cfgstore/pkg/client"
	"github.com/nainya/cfgstore/pkg/query"
	"github.com/nainya/cfgstore/pkg/setting"
)

// keyParam returns the catch-all key of /kv/*key and /locks/*key.
func keyParam(c *gin.Context) (string, error) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		return "", setting.InvalidArgument("key must not be empty")
	}
	return key, nil
}

// labelParam reads the label of a point operation. An absent label and the
// \0 token both address the null label.
func labelParam(c *gin.Context) *string {
	v, ok := c.GetQuery(client.ParamLabel)
	if !ok || v == client.NullLabel {
		return nil
	}
	return &v
}

func acceptDatetime(c *gin.Context) (*time.Time, error) {
	v := c.GetHeader(client.HeaderAcceptDatetime)
	if v == "" {
		return nil, nil
	}
	// RFC 3339 keeps the nanoseconds of LastModified; RFC 1123 and the
	// other HTTP date forms are accepted at second precision.
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		if t, err = http.ParseTime(v); err != nil {
			return nil, setting.InvalidArgument("invalid %s %q", client.HeaderAcceptDatetime, v)
		}
	}
	t = t.UTC()
	return &t, nil
}

func conditions(c *gin.Context) setting.Conditions {
	return setting.Conditions{
		IfMatch:     c.GetHeader(client.HeaderIfMatch),
		IfNoneMatch: c.GetHeader(client.HeaderIfNoneMatch),
	}
}

func pageRequest(c *gin.Context) (query.PageRequest, error) {
	req := query.PageRequest{
		After:       c.Query(client.ParamAfter),
		IfNoneMatch: c.GetHeader(client.HeaderIfNoneMatch),
	}
	if v := c.Query(client.ParamPageSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, setting.InvalidArgument("invalid %s %q", client.ParamPageSize, v)
		}
		req.PageSize = n
	}
	return req, nil
}

func settingFields(c *gin.Context) ([]query.Field, error) {
	return query.ParseFields(c.Query(client.ParamSelect))
}

// settingSelector reads the key, label and tags filters of a listing.
func settingSelector(c *gin.Context) (query.Selector, error) {
	asOf, err := acceptDatetime(c)
	if err != nil {
		return query.Selector{}, err
	}
	fields, err := settingFields(c)
	if err != nil {
		return query.Selector{}, err
	}
	return query.Selector{
		KeyFilter:      c.Query(client.ParamKey),
		LabelFilter:    c.Query(client.ParamLabel),
		TagsFilter:     c.QueryArray(client.ParamTags),
		AcceptDatetime: asOf,
		Fields:         fields,
	}, nil
}

// nextLink is the current request URL continued after cursor.
func nextLink(c *gin.Context, cursor string) string {
	u := *c.Request.URL
	q := u.Query()
	q.Set(client.ParamAfter, cursor)
	u.RawQuery = q.Encode()
	return u.RequestURI()
}

// writePage writes one listing page. A matched If-None-Match answers 304
// with the page ETag and next link so the caller can keep paging.
func writePage[T, J any](c *gin.Context, p *query.Page[T], conv func(*T) J) {
	if p.ETag != "" {
		c.Header(client.HeaderETag, p.ETag)
	}
	var link string
	if p.Next != "" {
		link = nextLink(c, p.Next)
		c.Header(client.HeaderLink, "<"+link+`>; rel="next"`)
	}
	if p.NotModified {
		c.Status(http.StatusNotModified)
		return
	}
	out := client.List[J]{Items: make([]J, 0, len(p.Items)), NextLink: link}
	for i := range p.Items {
		out.Items = append(out.Items, conv(&p.Items[i]))
	}
	c.JSON(http.StatusOK, out)
}
