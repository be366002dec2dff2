package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"crowdscope/config"
	"crowdscope/internal/core/models"
	"crowdscope/internal/integrations/opencv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameTopic(t *testing.T) {
	cases := []struct {
		topic  string
		camera int
		zone   string
		ok     bool
	}{
		{"crowdscope/frames/3", 3, "", true},
		{"crowdscope/frames/12/Hall", 12, "Hall", true},
		{"crowdscope/frames/", 0, "", false},
		{"crowdscope/frames/abc", 0, "", false},
		{"crowdscope/frames/1/a/b", 0, "", false},
		{"other/frames/1", 0, "", false},
		{"crowdscope/analysis/1", 0, "", false},
	}
	for _, tc := range cases {
		camera, zone, ok := ParseFrameTopic("crowdscope", tc.topic)
		assert.Equal(t, tc.ok, ok, tc.topic)
		assert.Equal(t, tc.camera, camera, tc.topic)
		assert.Equal(t, tc.zone, zone, tc.topic)
	}
}

func TestTopics(t *testing.T) {
	c := NewClient(config.MQTTConfig{})
	assert.Equal(t, "crowdscope", c.TopicPrefix())
	assert.Equal(t, "crowdscope/frames/#", c.FramesTopic())
	assert.Equal(t, "crowdscope/analysis/4", c.AnalysisTopic(4))
}

func TestEncodePayload(t *testing.T) {
	b, err := encodePayload(42)
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))

	b, err = encodePayload(map[string]int{"persons": 2})
	require.NoError(t, err)
	var m map[string]int
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, 2, m["persons"])
}

func TestPublishWhileDisconnectedIsNoop(t *testing.T) {
	c := NewClient(config.MQTTConfig{})
	assert.False(t, c.IsConnected())
	assert.Error(t, c.Publish("x", "y"))
	c.PublishAnalysis(&models.AnalysisResult{Record: &models.AnalysisRecord{}})
}

type recordingAnalyzer struct {
	mu   sync.Mutex
	reqs []models.AnalysisRequest
	err  error
	done chan struct{}
}

func (a *recordingAnalyzer) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	a.mu.Lock()
	a.reqs = append(a.reqs, req)
	a.mu.Unlock()
	defer func() { a.done <- struct{}{} }()
	if a.err != nil {
		return nil, a.err
	}
	return &models.AnalysisResult{Record: &models.AnalysisRecord{CameraID: req.CameraID}}, nil
}

func TestFrameHandlerDispatch(t *testing.T) {
	analyzer := &recordingAnalyzer{done: make(chan struct{}, 4)}
	c := NewClient(config.MQTTConfig{TopicPrefix: "cs"})
	c.RegisterHandler(NewFrameHandler(context.Background(), c.TopicPrefix(), analyzer))

	c.dispatch("cs/frames/5/Entrance", []byte{0xff, 0xd8})
	select {
	case <-analyzer.done:
	case <-time.After(time.Second):
		t.Fatal("frame not analyzed")
	}

	analyzer.mu.Lock()
	defer analyzer.mu.Unlock()
	require.Len(t, analyzer.reqs, 1)
	assert.Equal(t, 5, analyzer.reqs[0].CameraID)
	assert.Equal(t, "Entrance", analyzer.reqs[0].LocationZone)
	assert.Equal(t, "mqtt", analyzer.reqs[0].Source)
}

func TestFrameHandlerIgnoresOtherTopicsAndErrors(t *testing.T) {
	analyzer := &recordingAnalyzer{done: make(chan struct{}, 4), err: &opencv.DecodeError{Size: 2}}
	h := NewFrameHandler(context.Background(), "cs", analyzer)

	h.HandleMessage("cs/status", []byte("online"))
	assert.Empty(t, analyzer.reqs)

	h.HandleMessage("cs/frames/1", []byte{1, 2})
	analyzer.err = errors.New("detector down")
	h.HandleMessage("cs/frames/1", []byte{1, 2})
	assert.Len(t, analyzer.reqs, 2)
}
