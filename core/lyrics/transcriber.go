package lyrics

import (
	"context"
	"sync"

	"BratGen/logger"
)

// Word 转录得到的一个带时间戳的词
type Word struct {
	Text       string
	Start      float64
	End        float64
	Confidence *float64
}

// Transcriber 语音转文字
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]Word, error)
}

// CapabilityState 转录能力的状态
type CapabilityState int

const (
	CapabilityUnknown CapabilityState = iota
	CapabilityAvailable
	CapabilityUnavailable
)

func (s CapabilityState) String() string {
	switch s {
	case CapabilityAvailable:
		return "available"
	case CapabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Loader 创建 Transcriber, 只会被调用一次
type Loader func(ctx context.Context) (Transcriber, error)

// Capability 懒加载的转录能力. 未启用或加载失败后固定为 Unavailable
type Capability struct {
	enabled bool
	loader  Loader

	once        sync.Once
	mu          sync.RWMutex
	state       CapabilityState
	transcriber Transcriber
}

// NewCapability enabled 为 false 时不会调用 loader
func NewCapability(enabled bool, loader Loader) *Capability {
	c := &Capability{enabled: enabled, loader: loader}
	if !enabled || loader == nil {
		c.state = CapabilityUnavailable
	}
	return c
}

// Resolve 返回可用的 Transcriber, 第一次调用时加载
func (c *Capability) Resolve(ctx context.Context) (Transcriber, bool) {
	if c == nil || !c.enabled || c.loader == nil {
		return nil, false
	}
	c.once.Do(func() {
		t, err := c.loader(context.WithoutCancel(ctx))
		c.mu.Lock()
		defer c.mu.Unlock()
		if err != nil || t == nil {
			logger.Warn("转录模型不可用, 使用节拍对齐", logger.ErrorField(err))
			c.state = CapabilityUnavailable
			return
		}
		c.transcriber = t
		c.state = CapabilityAvailable
		logger.Info("转录模型已加载")
	})

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.transcriber, c.state == CapabilityAvailable
}

// State 当前状态, 不触发加载
func (c *Capability) State() CapabilityState {
	if c == nil {
		return CapabilityUnavailable
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
