package wdp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	ferrors "git.home.luguber.info/inful/holocommander/internal/foundation/errors"
	"git.home.luguber.info/inful/holocommander/internal/portal"
)

const (
	mrcFilesPath     = "/api/holographic/mrc/files"
	mrcFilePath      = "/api/holographic/mrc/file"
	mrcThumbnailPath = "/api/holographic/mrc/thumbnail"
	mrcStartPath     = "/api/holographic/mrc/video/control/start"
	mrcStopPath      = "/api/holographic/mrc/video/control/stop"
	liveStreamPath   = "/api/holographic/stream/live_low.mp4"
)

func (c *Client) MrcFiles(ctx context.Context) (portal.MrcFileList, error) {
	var out portal.MrcFileList
	err := c.getJSON(ctx, mrcFilesPath, nil, &out)
	return out, err
}

func (c *Client) MrcFile(ctx context.Context, name string, thumbnail bool) ([]byte, error) {
	path := mrcFilePath
	query := url.Values{"filename": {encodeParam(name)}}
	if thumbnail {
		path = mrcThumbnailPath
	} else {
		query.Set("op", "stream")
	}

	resp, err := c.do(ctx, http.MethodGet, path, query, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNetwork, "failed to download recording").
			WithContext("file", name).
			Retryable().
			Build()
	}
	return data, nil
}

func (c *Client) DeleteMrcFile(ctx context.Context, name string) error {
	return c.send(ctx, http.MethodDelete, mrcFilePath, url.Values{"filename": {encodeParam(name)}})
}

func (c *Client) StartMrcRecording(ctx context.Context, settings portal.MrcSettings) error {
	return c.send(ctx, http.MethodPost, mrcStartPath, mrcQuery(settings))
}

func (c *Client) StopMrcRecording(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, mrcStopPath, nil)
}

// LiveStreamURL returns the low quality live stream. Credentials are not
// embedded.
func (c *Client) LiveStreamURL(settings portal.MrcSettings) *url.URL {
	return c.endpoint(liveStreamPath, mrcQuery(settings))
}

func mrcQuery(s portal.MrcSettings) url.Values {
	return url.Values{
		"holo":     {strconv.FormatBool(s.Holograms)},
		"pv":       {strconv.FormatBool(s.ColorCamera)},
		"mic":      {strconv.FormatBool(s.Microphone)},
		"loopback": {strconv.FormatBool(s.AppAudio)},
	}
}
