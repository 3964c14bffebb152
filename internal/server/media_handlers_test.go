package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/vigil/internal/detection"
	"github.com/MeKo-Tech/vigil/internal/modelcache"
	"github.com/MeKo-Tech/vigil/internal/models"
	"github.com/MeKo-Tech/vigil/internal/pipeline"
)

func multipartUpload(t *testing.T, field, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)

	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestDetectImageHandler(t *testing.T) {
	f := newServerFixture(t)
	f.image.result = &pipeline.ImageResult{
		Detections: []detection.Record{
			{Class: "person", Confidence: 0.93, Box: [4]float64{10, 10, 50, 50}},
		},
		Artifact: pipeline.Artifact{Filename: "result_ab.jpg", SizeBytes: 128},
		Width:    100,
		Height:   80,
	}

	body, contentType := multipartUpload(t, "file", "photo.jpg", []byte("jpeg-bytes"), map[string]string{
		"model":      "yolov8m",
		"confidence": "0.5",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/detect/image", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ImageDetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "/static/result_ab.jpg", resp.ImageURL)
	assert.Equal(t, "photo.jpg", resp.OriginalFilename)
	assert.Equal(t, "yolov8m", resp.ModelUsed)
	assert.Equal(t, "100x80", resp.ImageSize)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, "person", resp.Detections[0].Class)

	assert.Equal(t, "yolov8m", f.image.gotModel)
	assert.InDelta(t, 0.5, f.image.gotConfidence, 1e-9)
}

func TestDetectImageDefaults(t *testing.T) {
	f := newServerFixture(t)
	f.image.result = &pipeline.ImageResult{Artifact: pipeline.Artifact{Filename: "r.jpg"}}

	body, contentType := multipartUpload(t, "file", "photo.jpg", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/detect/image", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, models.YOLOv8Nano, f.image.gotModel)
	assert.InDelta(t, 0.25, f.image.gotConfidence, 1e-9)
}

func TestDetectImageMissingFile(t *testing.T) {
	f := newServerFixture(t)

	body, contentType := multipartUpload(t, "wrongfield", "photo.jpg", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/detect/image", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectImageInvalidConfidence(t *testing.T) {
	f := newServerFixture(t)

	for _, v := range []string{"1.5", "-0.1", "abc"} {
		body, contentType := multipartUpload(t, "file", "photo.jpg", []byte("x"), map[string]string{
			"confidence": v,
		})
		req := httptest.NewRequest(http.MethodPost, "/api/detect/image", body)
		req.Header.Set("Content-Type", contentType)

		rec := f.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, v)
	}
}

func TestDetectImageRejectsWrongContentType(t *testing.T) {
	f := newServerFixture(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="file"; filename="clip.mp4"`)
	h.Set("Content-Type", "video/mp4")
	fw, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = fw.Write([]byte("container-bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/detect/image", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())

	rec := f.do(req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectImageErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown model", &modelcache.UnknownModelError{ID: "nope"}, http.StatusBadRequest},
		{"too large", &pipeline.DimensionError{Width: 4000, Height: 3000, MaxWidth: 1920, MaxHeight: 1080}, http.StatusBadRequest},
		{"load failure", &modelcache.LoadError{ID: "yolov8n", Err: assert.AnError}, http.StatusInternalServerError},
		{"processing failure", &pipeline.ProcessingError{Stage: "decode", Err: assert.AnError}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServerFixture(t)
			f.image.err = tt.err

			body, contentType := multipartUpload(t, "file", "photo.jpg", []byte("x"), nil)
			req := httptest.NewRequest(http.MethodPost, "/api/detect/image", body)
			req.Header.Set("Content-Type", contentType)

			rec := f.do(req)
			require.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestDetectImageMethodNotAllowed(t *testing.T) {
	f := newServerFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/detect/image", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDetectVideoHandler(t *testing.T) {
	f := newServerFixture(t)
	f.video.result = &pipeline.VideoResult{
		Artifact:       pipeline.Artifact{Filename: "result_cd.mp4", SizeBytes: 2048},
		TotalFrames:    90,
		FramesDetected: 30,
	}

	body, contentType := multipartUpload(t, "file", "clip.mp4", []byte("container-bytes"), map[string]string{
		"model": "yolov8s",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/detect/video", body)
	req.Header.Set("Content-Type", contentType)

	rec := f.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp VideoDetectionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "/static/result_cd.mp4", resp.VideoURL)
	assert.Equal(t, "clip.mp4", resp.OriginalFilename)
	assert.Equal(t, 90, resp.TotalFrames)
	assert.Equal(t, 30, resp.FramesDetected)

	assert.Equal(t, "clip.mp4", f.video.gotName)
	assert.Equal(t, "yolov8s", f.video.gotModel)
}

func TestDetectVideoErrorMapping(t *testing.T) {
	for _, err := range []error{
		pipeline.ErrUnreadableVideo,
		pipeline.ErrUnwritableOutput,
		pipeline.ErrEmptyOutput,
	} {
		f := newServerFixture(t)
		f.video.err = err

		body, contentType := multipartUpload(t, "file", "clip.mp4", []byte("x"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/detect/video", body)
		req.Header.Set("Content-Type", contentType)

		rec := f.do(req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, err.Error())
	}
}
