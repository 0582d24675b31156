package translate

// CrossTarget is one entry of Options.CrossCompile: either a native
// cross-compiler invocation writing its own .so (Prefix/Suffix set), or
// an embeddable-source sink that writes self-registering C source
// (EmbedPrefix/EmbedSuffix set) — spec.md §4.6 / SUPPLEMENTED FEATURES
// item 3, a std::variant in the original, modeled here as a tagged
// struct since Go has no sum type.
type CrossTarget struct {
	// Native cross-compile target.
	Prefix, Suffix string
	CrossCompiler   string // e.g. "x86_64-w64-mingw32-gcc"

	// Embeddable-source sink.
	EmbedPrefix, EmbedSuffix string

	IsEmbed bool
}

// Options mirrors MachineOptions<W>'s translation-relevant fields,
// spec.md §6's configuration table, in the same plain struct-of-flags
// shape jam-duna-jamduna/pvm uses for its own options.
type Options struct {
	TranslateEnabled               bool
	TranslateEnableEmbedded        bool
	TranslateBlocksMax             int
	TranslateInstrMax              int
	TranslateTrace                 bool
	TranslateIgnoreInstructionLimit bool
	TranslateBackgroundCallback    func(func())
	TranslationUseArena            bool
	TranslationPrefix              string
	TranslationSuffix              string
	TranslationCache               bool
	CrossCompile                   []CrossTarget
	UseSharedExecuteSegments       bool
	VerboseLoader                  bool
	TranslateTiming                bool
	TranslateInvokeCompiler        bool

	Compressed bool
	Float      bool
	Double     bool
	Vector     bool
	Atomic     bool

	EncompassingArenaBits int // 0 disables the encompassing-arena strategy
	ArenaEnd              uint64
	InitialRodataEnd      uint64

	CCompiler string // e.g. "cc", defaults to "cc" when empty
	CompressCache bool
}

// Option mutates an Options value; NewOptions applies a sequence of
// them over a set of sane defaults.
type Option func(*Options)

// NewOptions builds an Options with spec.md-matching defaults
// (translation enabled, no embedded table lookup, unlimited blocks/instr
// caps, cache kept) and then applies opts in order.
func NewOptions(opts ...Option) Options {
	o := Options{
		TranslateEnabled:        true,
		TranslateInvokeCompiler: true,
		TranslateBlocksMax:      0,
		TranslateInstrMax:       0,
		TranslationPrefix:       "rvtrjit-",
		TranslationSuffix:       ".so",
		TranslationCache:        true,
		CCompiler:               "cc",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func WithTrace(v bool) Option              { return func(o *Options) { o.TranslateTrace = v } }
func WithIgnoreInstructionLimit(v bool) Option {
	return func(o *Options) { o.TranslateIgnoreInstructionLimit = v }
}
func WithBlocksMax(n int) Option { return func(o *Options) { o.TranslateBlocksMax = n } }
func WithInstrMax(n int) Option  { return func(o *Options) { o.TranslateInstrMax = n } }
func WithEmbeddedEnabled(v bool) Option {
	return func(o *Options) { o.TranslateEnableEmbedded = v }
}
func WithArena(useArena bool, end, rodataEnd uint64) Option {
	return func(o *Options) {
		o.TranslationUseArena = useArena
		o.ArenaEnd = end
		o.InitialRodataEnd = rodataEnd
	}
}
func WithEncompassingArena(bits int) Option {
	return func(o *Options) { o.EncompassingArenaBits = bits }
}
func WithVerboseLoader(v bool) Option { return func(o *Options) { o.VerboseLoader = v } }
func WithTiming(v bool) Option        { return func(o *Options) { o.TranslateTiming = v } }
func WithCache(v bool) Option         { return func(o *Options) { o.TranslationCache = v } }
func WithPrefixSuffix(prefix, suffix string) Option {
	return func(o *Options) { o.TranslationPrefix = prefix; o.TranslationSuffix = suffix }
}
func WithBackgroundCallback(f func(func())) Option {
	return func(o *Options) { o.TranslateBackgroundCallback = f }
}
func WithCrossCompile(targets ...CrossTarget) Option {
	return func(o *Options) { o.CrossCompile = append(o.CrossCompile, targets...) }
}
func WithSharedExecuteSegments(v bool) Option {
	return func(o *Options) { o.UseSharedExecuteSegments = v }
}
