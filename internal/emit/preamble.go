// Package emit implements the host-code emitter (spec.md §4.5): it walks
// a blockscan.Info and produces C source text for one function per
// block, plus the mapping manifest the loader installs into decoder
// entries.
package emit

// Preamble is the static C translation-unit header prepended to every
// generated block, the Go-native analog of libriscv's bintr_code
// constant: struct layouts, macros, and the CallbackTable forward
// declaration that every emitted function references. Exact field
// offsets (instruction counter, max counter, arena pointer) are injected
// as -D macros by the loader at compile time (spec.md §6), so this text
// never hardcodes them.
const Preamble = `/* Generated by rvtrjit. Do not edit. */
#include <stdint.h>
#include <stddef.h>
#include <string.h>
#include <math.h>

typedef uint64_t addr_t;

typedef union {
	float  f32[2];
	double f64;
	int32_t  i32[2];
	int64_t  i64;
	uint64_t usign;
	int64_t  lsign;
} fp_reg_t;

typedef struct {
	int32_t lane[32];
} rvv_state_t;

#ifndef RISCV_CPU_PAD_BYTES
#define RISCV_CPU_PAD_BYTES 0
#endif

typedef struct CPU {
	uint64_t r[32];
	fp_reg_t fr[32];
	addr_t   pc;
	rvv_state_t rvv;
	uint8_t  pad[RISCV_CPU_PAD_BYTES];
} CPU;

typedef struct {
	uint64_t counter;
	uint64_t max_counter;
} ReturnValues;

typedef struct CallbackTable {
	uint64_t (*mem_ld)(CPU*, addr_t, unsigned);
	void     (*mem_st)(CPU*, addr_t, uint64_t, unsigned);
	void     (*vec_load)(CPU*, int, addr_t);
	void     (*vec_store)(CPU*, addr_t, int);
	int      (*system_call)(CPU*, int);
	void     (*system)(CPU*, uint32_t);
	unsigned (*execute)(CPU*, uint32_t);
	unsigned (*execute_handler)(CPU*, unsigned, uint32_t);
	void     (*trigger_exception)(CPU*, addr_t, int);
	void     (*trace)(CPU*, const char*, addr_t, uint32_t);
	float    (*sqrtf32)(float);
	double   (*sqrtf64)(double);
	int      (*clz)(uint32_t);
	int      (*clzl)(uint64_t);
	int      (*ctz)(uint32_t);
	int      (*ctzl)(uint64_t);
	int      (*cpop)(uint32_t);
	int      (*cpopl)(uint64_t);
} CallbackTable;

static CallbackTable api;
static uint8_t* arena_ptr;

#define INS_COUNTER(cpu)  (*(uint64_t*)((uint8_t*)(cpu) + RISCV_INS_COUNTER_OFF))
#define MAX_COUNTER(cpu)  (*(uint64_t*)((uint8_t*)(cpu) + RISCV_MAX_COUNTER_OFF))
#define ARENA_AT(addr)    (arena_ptr + ((addr) & (RISCV_ARENA_END - 1)))
#define LIKELY(x)   __builtin_expect(!!(x), 1)
#define UNLIKELY(x) __builtin_expect(!!(x), 0)

#define JUMP_TO(cpu, dest) do { (cpu)->pc = (dest); } while (0)

#define MISALIGN_MASK ((RISCV_EXT_C) ? 0x1 : 0x3)

#ifndef RISCV_ARENA_BEGIN
#define RISCV_ARENA_BEGIN 0
#endif
#define ARENA_READABLE(addr) ((addr) >= RISCV_ARENA_BEGIN && (addr) < RISCV_ARENA_END)
#define ARENA_WRITABLE(addr) ((addr) >= RISCV_ARENA_ROEND && (addr) < RISCV_ARENA_END)

static inline uint64_t __rvtrjit_clmul(uint64_t a, uint64_t b) {
	uint64_t r = 0;
	for (int i = 0; i < 64; i++)
		if ((b >> i) & 1ULL) r ^= a << i;
	return r;
}
static inline uint64_t __rvtrjit_clmulh(uint64_t a, uint64_t b) {
	uint64_t r = 0;
	for (int i = 1; i < 64; i++)
		if ((b >> i) & 1ULL) r ^= a >> (64 - i);
	return r;
}

static inline void trigger_misaligned(CPU* cpu, addr_t pc) {
	api.trigger_exception(cpu, pc, 2 /* MISALIGNED_INSTRUCTION */);
}

#if defined(RISCV_TRACING)
#define TRACE(cpu, name, pc, instr) api.trace(cpu, name, pc, instr)
#else
#define TRACE(cpu, name, pc, instr) do {} while (0)
#endif

#ifndef VISIBLE
#define VISIBLE __attribute__((visibility("default")))
#endif

VISIBLE void init(CallbackTable* table, void* arena) {
	api = *table;
	arena_ptr = (uint8_t*)arena;
}
`

// VisibleMacro is written by translate.Source right after the Preamble
// (which carries the same guarded definition, since init uses it) so that
// dylib-exported symbols (init, mappings, unique_mappings, ...) are
// visible across the shared-object boundary even when the compiler
// defaults to hidden visibility.
const VisibleMacro = `#ifndef VISIBLE
#define VISIBLE __attribute__((visibility("default")))
#endif
`
