package adaptor

import (
	"io"
	"net/http"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/gin-gonic/gin"

	"github.com/modelrelay/modelrelay/common/client"
	"github.com/modelrelay/modelrelay/relay/meta"
)

// SetupCommonRequestHeader copies the negotiation headers every upstream
// expects. Family adaptors call this before stacking their own auth headers.
func SetupCommonRequestHeader(c *gin.Context, req *http.Request, meta *meta.Meta) {
	req.Header.Set("Content-Type", c.Request.Header.Get("Content-Type"))
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", c.Request.Header.Get("Accept"))
	if meta.IsStream && c.Request.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/event-stream")
	}
}

// DoRequestHelper builds and sends the upstream request for an adaptor that
// speaks plain HTTP. The request inherits the attempt context, so the
// per-attempt budget set by the relay loop bounds the whole exchange.
func DoRequestHelper(a Adaptor, c *gin.Context, meta *meta.Meta, requestBody io.Reader) (*http.Response, error) {
	fullRequestURL, err := a.GetRequestURL(meta)
	if err != nil {
		return nil, errors.Wrap(err, "get request url")
	}
	req, err := http.NewRequestWithContext(gmw.Ctx(c), c.Request.Method, fullRequestURL, requestBody)
	if err != nil {
		return nil, errors.Wrap(err, "new upstream request")
	}
	if err := a.SetupRequestHeader(c, req, meta); err != nil {
		return nil, errors.Wrap(err, "setup request header")
	}
	resp, err := DoRequest(c, req)
	if err != nil {
		return nil, errors.Wrapf(err, "request %s upstream", meta.ProviderId)
	}
	return resp, nil
}

// DoRequest sends a prepared upstream request and guards against transports
// that return neither response nor error.
func DoRequest(c *gin.Context, req *http.Request) (*http.Response, error) {
	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp == nil {
		return nil, errors.New("resp is nil")
	}
	if req.Body != nil {
		_ = req.Body.Close()
	}
	_ = c.Request.Body.Close()
	return resp, nil
}
