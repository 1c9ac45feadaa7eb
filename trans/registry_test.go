package trans

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/weir/errors"
)

type gaugeSettings struct {
	Limit int `mapstructure:"limit"`
}

func gaugeFactory(cfg Config) (Worker, error) {
	var s gaugeSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.Limit < 0 {
		return nil, errors.Newf("limit must not be negative, got %d", s.Limit)
	}
	return &spring{limit: s.Limit}, nil
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("gauge", gaugeFactory)
	reg.Register("channel", func(Config) (Worker, error) { return channelWorker(), nil })

	assert.True(t, reg.Has("gauge"))
	assert.False(t, reg.Has("turbine"))
	assert.Equal(t, []string{"channel", "gauge"}, reg.Names())

	t.Run("duplicate registration panics", func(t *testing.T) {
		assert.Panics(t, func() { reg.Register("gauge", gaugeFactory) })
	})

	t.Run("unknown type is not found", func(t *testing.T) {
		_, err := reg.New("turbine", nil)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("factory errors name the type", func(t *testing.T) {
		_, err := reg.New("gauge", ConfigFunc(func(v any) error {
			v.(*gaugeSettings).Limit = -1
			return nil
		}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "configure gauge")
	})

	t.Run("graph resolves types through the registry", func(t *testing.T) {
		meta := &Meta{
			Name: "registered",
			Steps: []StepMeta{
				{Name: "src", Type: "gauge", Config: ConfigFunc(func(v any) error {
					v.(*gaugeSettings).Limit = 12
					return nil
				})},
				{Name: "out", Type: "channel"},
			},
			Hops: []Hop{{From: "src", To: "out"}},
		}
		g := NewGraph(meta, reg, Options{})
		res, err := g.Execute(context.Background())
		require.NoError(t, err)
		assert.True(t, res.Success)
		out, _ := g.Step("out")
		assert.Equal(t, int64(12), out.LinesWritten())
	})

	t.Run("unknown type fails preparation", func(t *testing.T) {
		meta := &Meta{Name: "missing", Steps: []StepMeta{{Name: "x", Type: "turbine"}}}
		res, err := NewGraph(meta, reg, Options{}).Execute(context.Background())
		assert.True(t, errors.IsNotFoundError(err))
		assert.False(t, res.Success)
	})
}
