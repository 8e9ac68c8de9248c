package handle

// Default deferred/delayed flush thresholds (spec.md §6), and the bounded
// livelock-guard retry caps (spec.md §4.2, §9 — "any finite cap
// suffices"; these specific numbers match the al2o3_handle source).
const (
	defaultDeferredFlushThreshold = 2
	defaultDelayedFlushThreshold  = 100

	fixedAllocRetryLimit   = 1_000_000
	dynamicAllocRetryLimit = 1_000
)

// FixedOption configures a [FixedManager32] or [FixedManager64] at
// construction. Modeled on eventloop/options.go's LoopOption /
// loopOptionImpl functional-options pattern.
type FixedOption interface {
	applyFixed(*fixedOptions)
}

type fixedOptions struct {
	logger Logger
}

type fixedOptionFunc func(*fixedOptions)

func (f fixedOptionFunc) applyFixed(o *fixedOptions) { f(o) }

// WithFixedLogger sets the [Logger] a fixed manager reports warnings
// through. The default is [NewNoOpLogger].
func WithFixedLogger(logger Logger) FixedOption {
	return fixedOptionFunc(func(o *fixedOptions) { o.logger = logger })
}

func resolveFixedOptions(opts []FixedOption) fixedOptions {
	cfg := fixedOptions{logger: NewNoOpLogger()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyFixed(&cfg)
	}
	return cfg
}

// DynamicOption configures a [DynamicManager32] or [DynamicManager64] at
// construction.
type DynamicOption interface {
	applyDynamic(*dynamicOptions)
}

type dynamicOptions struct {
	logger                 Logger
	neverReissueOldHandles bool
	deferredFlushThreshold uint32
	delayedFlushThreshold  uint32
}

type dynamicOptionFunc func(*dynamicOptions)

func (f dynamicOptionFunc) applyDynamic(o *dynamicOptions) { f(o) }

// WithDynamicLogger sets the [Logger] a dynamic manager reports warnings
// through. The default is [NewNoOpLogger].
func WithDynamicLogger(logger Logger) DynamicOption {
	return dynamicOptionFunc(func(o *dynamicOptions) { o.logger = logger })
}

// WithNeverReissueOldHandles enables the policy described in spec.md
// §4.4/§4.6: when a slot's generation counter wraps, the slot is poisoned
// and leaked (never returned to the free/deferred lists) rather than
// reissued, trading bounded memory for an unconditional reuse-distance
// guarantee.
func WithNeverReissueOldHandles(enabled bool) DynamicOption {
	return dynamicOptionFunc(func(o *dynamicOptions) { o.neverReissueOldHandles = enabled })
}

// WithDeferredFlushThreshold overrides the default (2) number of block
// growths that must occur before the allocator will opportunistically
// swap the deferred list into the free list instead of growing again
// (spec.md §6 set_deferred_flush_threshold).
func WithDeferredFlushThreshold(n uint32) DynamicOption {
	return dynamicOptionFunc(func(o *dynamicOptions) { o.deferredFlushThreshold = n })
}

// WithDelayedFlushThreshold overrides the default (100) number of
// deferred-list flushes and block growths (counted while the delayed list
// is non-empty) that must occur before the allocator will try draining the
// "delayed" list of generation-wrapped slots back into circulation
// (spec.md §6 set_delayed_flush_threshold; dynamic-only, [EXPANSION]
// per SPEC_FULL.md §4.3).
func WithDelayedFlushThreshold(n uint32) DynamicOption {
	return dynamicOptionFunc(func(o *dynamicOptions) { o.delayedFlushThreshold = n })
}

func resolveDynamicOptions(opts []DynamicOption) dynamicOptions {
	cfg := dynamicOptions{
		logger:                 NewNoOpLogger(),
		deferredFlushThreshold: defaultDeferredFlushThreshold,
		delayedFlushThreshold:  defaultDelayedFlushThreshold,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyDynamic(&cfg)
	}
	return cfg
}
