package polling

import "github.com/Allenxuxu/polling/poller"

// Options 配置
type Options struct {
	// EventBatch is the initial size of the native event buffer.
	EventBatch int
	// EventsCapacity is the capacity of the lists made by NewEvents.
	EventsCapacity int
	// Name labels the poller in logs and metrics.
	Name string
	// Metrics records waits and registrations once metrics.Enable is set.
	Metrics bool
}

// Option ...
type Option func(*Options)

func newOptions(opt ...Option) *Options {
	opts := Options{}

	for _, o := range opt {
		o(&opts)
	}

	if opts.EventBatch <= 0 {
		opts.EventBatch = poller.DefaultBatch
	}
	if opts.EventsCapacity <= 0 {
		opts.EventsCapacity = poller.DefaultBatch
	}
	if len(opts.Name) == 0 {
		opts.Name = "default"
	}

	return &opts
}

// EventBatch 单次 wait 收集的原生事件数量
func EventBatch(n int) Option {
	return func(o *Options) {
		o.EventBatch = n
	}
}

// EventsCapacity NewEvents 的初始容量
func EventsCapacity(n int) Option {
	return func(o *Options) {
		o.EventsCapacity = n
	}
}

// Name 日志与监控中使用的名称
func Name(n string) Option {
	return func(o *Options) {
		o.Name = n
	}
}

// Metrics 开启 prometheus 统计
func Metrics(enable bool) Option {
	return func(o *Options) {
		o.Metrics = enable
	}
}
