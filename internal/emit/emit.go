package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/imbev/rvtrjit/internal/blockscan"
	"github.com/imbev/rvtrjit/internal/rv"
)

// emitter accumulates C source for one TransInfo block, following the
// structure of the original's Emitter<W>: a single code buffer, a
// running instruction counter flushed at every branch/jump/system, and
// a mapping list of every PC that must be independently addressable.
type emitter struct {
	info *blockscan.Info
	opt  Options

	code    strings.Builder
	mapping []Mapping
	labels  map[uint64]bool // intra-function labels already emitted

	icounter int // instructions seen since last flush
	funcName string
}

func funcLabel(addr uint64) string { return fmt.Sprintf("f_%x", addr) }

// EmitBlock produces the C function for one block, returning its source
// text and the list of (addr, symbol) mappings that must be installed
// into decoder entries — spec.md §4.5.
func EmitBlock(info *blockscan.Info, opt Options) (string, []Mapping, error) {
	e := &emitter{
		info:     info,
		opt:      opt,
		labels:   make(map[uint64]bool),
		funcName: funcLabel(info.BasePC),
	}
	e.emit()
	return e.code.String(), e.mapping, nil
}

func (e *emitter) addMapping(addr uint64, symbol string) {
	e.mapping = append(e.mapping, Mapping{Addr: addr, Symbol: symbol})
}

func (e *emitter) flushCounter() {
	if e.icounter > 0 && !e.info.IgnoreInstructionLimit {
		fmt.Fprintf(&e.code, "counter += %d;\n", e.icounter)
	}
	e.icounter = 0
}

func (e *emitter) alignMask() uint64 {
	if e.opt.Compressed {
		return 0x1
	}
	return 0x3
}

// reg renders a C expression reading integer register r (x0 is always
// the literal 0, matching RISC-V semantics).
func reg(r uint32) string {
	if r == 0 {
		return "0ULL"
	}
	return fmt.Sprintf("cpu->r[%d]", r)
}

func (e *emitter) setReg(r uint32, expr string) {
	if r == 0 {
		return
	}
	fmt.Fprintf(&e.code, "cpu->r[%d] = %s;\n", r, expr)
}

// emit walks every instruction in the block, emitting labels at every
// PC that is a known jump target (intra-block or global) before
// translating the instruction itself — spec.md §4.5.
func (e *emitter) emit() {
	fmt.Fprintf(&e.code, "static ReturnValues %s(CPU* cpu, uint64_t counter, uint64_t max_counter, addr_t pc) {\n", e.funcName)
	e.emitSwitchHeader()

	e.addMapping(e.info.BasePC, e.funcName)
	fmt.Fprintf(&e.code, "%s:;\n", funcLabel(e.info.BasePC))
	e.labels[e.info.BasePC] = true

	for i, instr := range e.info.Instructions {
		pc := instr.PC
		if i > 0 {
			_, isGlobal := e.info.GlobalJumpLocations[pc]
			_, isLocal := e.info.JumpLocations[pc]
			if isGlobal {
				e.flushCounter()
				fmt.Fprintf(&e.code, "%s:;\n", funcLabel(pc))
				e.labels[pc] = true
				e.addMapping(pc, e.funcName)
			} else if isLocal {
				e.flushCounter()
				fmt.Fprintf(&e.code, "%s:;\n", funcLabel(pc))
				e.labels[pc] = true
			}
		}

		if e.info.Trace {
			fmt.Fprintf(&e.code, "api.trace(cpu, \"%s\", %dULL, %dU);\n", e.funcName, pc, instr.Word)
		}

		e.icounter++
		e.translate(instr)
	}

	e.flushCounter()
	fmt.Fprintf(&e.code, "return (ReturnValues){counter, max_counter};\n}\n\n")
}

// emitSwitchHeader emits the multi-entry dispatch: a switch(pc) that
// goto's into any recorded mapping, enabling jump-into-function
// semantics from other blocks or re-entry after a syscall.
func (e *emitter) emitSwitchHeader() {
	var entries []uint64
	entries = append(entries, e.info.BasePC)
	for pc := range e.info.GlobalJumpLocations {
		if pc > e.info.BasePC && pc < e.info.EndPC {
			entries = append(entries, pc)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i] < entries[j] })

	e.code.WriteString("switch (pc) {\n")
	for _, pc := range entries {
		fmt.Fprintf(&e.code, "case %dULL: goto %s;\n", pc, funcLabel(pc))
	}
	e.code.WriteString("default: break;\n}\n")
}

// exitFunction ends the function with cpu->pc set to the given
// expression and the accumulated counter flushed.
func (e *emitter) exitFunction(pcExpr string) {
	e.flushCounter()
	fmt.Fprintf(&e.code, "cpu->pc = %s;\nreturn (ReturnValues){counter, max_counter};\n", pcExpr)
}

// blockContaining returns the sibling block (possibly this one) whose
// [BasePC, EndPC) contains dest, or nil.
func (e *emitter) blockContaining(dest uint64) *blockscan.Info {
	for _, b := range e.info.Blocks {
		if dest >= b.BasePC && dest < b.EndPC {
			return b
		}
	}
	return nil
}

// translate lowers one instruction into C, dispatching on its opcode
// the way spec.md §4.5 enumerates.
func (e *emitter) translate(ins blockscan.Instruction) {
	pc := ins.PC
	if ins.Length() == 2 {
		// Compressed instructions are re-decoded by the interpreter
		// callback rather than expanded inline, matching the
		// UNKNOWN_INSTRUCTION fallback tr_emit.cpp uses for anything
		// it declines to translate directly (see DESIGN.md).
		e.emitUnknown(pc, uint32(uint16(ins.Word)))
		return
	}

	instr := rv.Instr(ins.Word)
	switch instr.Opcode() {
	case rv.OpLui:
		e.setReg(instr.Rd(), fmt.Sprintf("(int64_t)%d", int64(instr.UtypeUpperImm())))
	case rv.OpAuipc:
		e.setReg(instr.Rd(), fmt.Sprintf("%dULL + (int64_t)%d", pc, int64(instr.UtypeUpperImm())))
	case rv.OpJal:
		e.emitJAL(pc, instr)
	case rv.OpJalr:
		e.emitJALR(pc, instr)
	case rv.OpBranch:
		e.emitBranch(pc, instr)
	case rv.OpLoad:
		e.emitLoad(pc, instr)
	case rv.OpStore:
		e.emitStore(pc, instr)
	case rv.OpOpImm:
		e.emitOpImm(instr, false)
	case rv.OpOpImm32:
		e.emitOpImm(instr, true)
	case rv.OpOp:
		e.emitOp(instr, false)
	case rv.OpOp32:
		e.emitOp(instr, true)
	case rv.OpMiscMem:
		e.code.WriteString("/* FENCE */\n")
	case rv.OpSystem:
		e.emitSystem(pc, instr)
	case rv.OpLoadFP, rv.OpStoreFP, rv.OpOpFP:
		if e.opt.Float || e.opt.Double {
			e.emitFloat(pc, instr)
		} else {
			e.emitUnknown(pc, ins.Word)
		}
	case rv.OpVector:
		if e.opt.Vector {
			e.emitUnknown(pc, ins.Word) // vector lowering delegates to the callback table's vec_load/vec_store
		} else {
			e.emitUnknown(pc, ins.Word)
		}
	case rv.OpAmo:
		e.emitUnknown(pc, ins.Word) // atomics are not lowered inline; routed to the interpreter
	default:
		e.emitUnknown(pc, ins.Word)
	}
}

// emitUnknown routes an instruction through the interpreter callback,
// spec.md §4.5's "Unknown/illegal" path: the callback decodes and
// dispatches it, returning an error code that causes an early return.
func (e *emitter) emitUnknown(pc uint64, word uint32) {
	if word == 0 {
		fmt.Fprintf(&e.code, "api.trigger_exception(cpu, %dULL, 4 /* ILLEGAL_OPCODE */);\nreturn (ReturnValues){0, 0};\n", pc)
		return
	}
	fmt.Fprintf(&e.code, "if (api.execute(cpu, %dU)) return (ReturnValues){0, 0};\n", word)
}

func (e *emitter) emitJAL(pc uint64, instr rv.Instr) {
	dest := pc + uint64(int64(instr.JtypeImm()))
	if dest&e.alignMask() != 0 {
		fmt.Fprintf(&e.code, "api.trigger_exception(cpu, %dULL, 2 /* MISALIGNED_INSTRUCTION */);\nreturn (ReturnValues){0, 0};\n", pc)
		return
	}
	link := pc + 4
	if instr.Rd() != 0 {
		e.setReg(instr.Rd(), fmt.Sprintf("%dULL", link))
	}

	if _, ok := e.info.JumpLocations[dest]; ok && dest >= e.info.BasePC && dest < e.info.EndPC {
		if dest > pc {
			fmt.Fprintf(&e.code, "goto %s;\n", funcLabel(dest))
		} else {
			e.flushCounter()
			fmt.Fprintf(&e.code, "if (LIKELY(counter < max_counter)) goto %s;\n", funcLabel(dest))
			e.exitFunction(fmt.Sprintf("%dULL", dest))
		}
		return
	}

	if blk := e.blockContaining(dest); blk != nil && blk != e.info {
		// Direct tail call into an already-discovered sibling block,
		// re-entering this function on return only if rd != 0 (a real
		// call, not a tail jump).
		e.flushCounter()
		if instr.Rd() != 0 {
			fmt.Fprintf(&e.code, "{ ReturnValues rv = %s(cpu, counter, max_counter, %dULL); counter = rv.counter; max_counter = rv.max_counter; }\n",
				funcLabel(blk.BasePC), dest)
			fmt.Fprintf(&e.code, "if (cpu->pc != %dULL) return (ReturnValues){counter, max_counter};\n", link)
		} else {
			fmt.Fprintf(&e.code, "return %s(cpu, counter, max_counter, %dULL);\n", funcLabel(blk.BasePC), dest)
		}
		return
	}

	e.exitFunction(fmt.Sprintf("%dULL", dest))
}

func (e *emitter) emitJALR(pc uint64, instr rv.Instr) {
	link := pc + 4
	fmt.Fprintf(&e.code, "{ addr_t __jalr_dest = (%s + (int64_t)%d) & ~1ULL;\n", reg(instr.Rs1()), int64(instr.ItypeImm()))
	if instr.Rd() != 0 {
		e.setReg(instr.Rd(), fmt.Sprintf("%dULL", link))
	}
	fmt.Fprintf(&e.code, "if (__jalr_dest & %dULL) { api.trigger_exception(cpu, %dULL, 2); return (ReturnValues){0,0}; }\n", e.alignMask(), pc)
	e.flushCounter()
	e.code.WriteString("cpu->pc = __jalr_dest;\nreturn (ReturnValues){counter, max_counter}; }\n")
}

func (e *emitter) emitBranch(pc uint64, instr rv.Instr) {
	dest := pc + uint64(int64(instr.BtypeImm()))
	var cond string
	rs1, rs2 := reg(instr.Rs1()), reg(instr.Rs2())
	switch instr.Funct3() {
	case 0x0:
		cond = rs1 + " == " + rs2
	case 0x1:
		cond = rs1 + " != " + rs2
	case 0x4:
		cond = "(int64_t)" + rs1 + " < (int64_t)" + rs2
	case 0x5:
		cond = "(int64_t)" + rs1 + " >= (int64_t)" + rs2
	case 0x6:
		cond = rs1 + " < " + rs2
	case 0x7:
		cond = rs1 + " >= " + rs2
	default:
		e.emitUnknown(pc, uint32(instr))
		return
	}

	fmt.Fprintf(&e.code, "if (%s) {\n", cond)
	if dest&e.alignMask() != 0 {
		fmt.Fprintf(&e.code, "api.trigger_exception(cpu, %dULL, 2); return (ReturnValues){0, 0};\n}\n", pc)
		return
	}
	if _, ok := e.info.JumpLocations[dest]; ok && dest >= e.info.BasePC && dest < e.info.EndPC {
		if dest > pc || e.info.IgnoreInstructionLimit {
			fmt.Fprintf(&e.code, "goto %s; }\n", funcLabel(dest))
			return
		}
		fmt.Fprintf(&e.code, "if (LIKELY(counter < max_counter)) goto %s;\n", funcLabel(dest))
		e.exitFunction(fmt.Sprintf("%dULL", dest))
		e.code.WriteString("}\n")
		return
	}
	e.exitFunction(fmt.Sprintf("%dULL", dest))
	e.code.WriteString("}\n")
}

// gpFoldAddress attempts to fold a GP-relative load/store into a fixed
// absolute address, spec.md §4.5's memory-access optimization: only
// valid when gp is known and the target lies inside the readable/
// writable arena window.
func (e *emitter) gpFoldAddress(instr rv.Instr, imm int64, isWrite bool) (uint64, bool) {
	if e.info.GP == 0 || instr.Rs1() != 3 /* gp */ || e.opt.ArenaMode == ArenaCallback {
		return 0, false
	}
	addr := e.info.GP + uint64(imm)
	if isWrite {
		if addr >= e.opt.InitialRodataEnd && addr < e.opt.ArenaEnd {
			return addr, true
		}
		return 0, false
	}
	if addr >= 0x1000 && addr < e.opt.ArenaEnd {
		return addr, true
	}
	return 0, false
}

func (e *emitter) arenaAt(addrExpr string) string {
	switch e.opt.ArenaMode {
	case ArenaEncompassing:
		mask := (uint64(1) << e.opt.EncompassingBits) - 1
		return fmt.Sprintf("(arena_ptr + ((%s) & %dULL))", addrExpr, mask)
	default:
		return fmt.Sprintf("(arena_ptr + (%s))", addrExpr)
	}
}

func (e *emitter) emitLoad(pc uint64, instr rv.Instr) {
	var ctype string
	switch instr.Funct3() {
	case 0x0:
		ctype = "int8_t"
	case 0x1:
		ctype = "int16_t"
	case 0x2:
		ctype = "int32_t"
	case 0x3:
		ctype = "int64_t"
	case 0x4:
		ctype = "uint8_t"
	case 0x5:
		ctype = "uint16_t"
	case 0x6:
		ctype = "uint32_t"
	default:
		e.emitUnknown(pc, uint32(instr)) // funct3=7 is reserved
		return
	}

	addrExpr := fmt.Sprintf("(%s + (int64_t)%d)", reg(instr.Rs1()), int64(instr.ItypeImm()))
	if gpAddr, ok := e.gpFoldAddress(instr, int64(instr.ItypeImm()), false); ok {
		addrExpr = fmt.Sprintf("%dULL", gpAddr)
	}

	switch e.opt.ArenaMode {
	case ArenaEncompassing:
		e.setReg(instr.Rd(), fmt.Sprintf("(int64_t)(%s*)%s", ctype, e.arenaAt(addrExpr)))
	case ArenaFlat:
		tmp := fmt.Sprintf("__ld%d", instr.Rd())
		fmt.Fprintf(&e.code, "int64_t %s;\n", tmp)
		fmt.Fprintf(&e.code, "if (LIKELY(ARENA_READABLE(%s))) %s = *(%s*)%s;\n", addrExpr, tmp, ctype, e.arenaAt(addrExpr))
		fmt.Fprintf(&e.code, "else %s = (%s)api.mem_ld(cpu, %s, sizeof(%s));\n", tmp, ctype, addrExpr, ctype)
		e.setReg(instr.Rd(), tmp)
	default:
		e.setReg(instr.Rd(), fmt.Sprintf("(%s)api.mem_ld(cpu, %s, sizeof(%s))", ctype, addrExpr, ctype))
	}
}

func (e *emitter) emitStore(pc uint64, instr rv.Instr) {
	var ctype string
	switch instr.Funct3() {
	case 0x0:
		ctype = "int8_t"
	case 0x1:
		ctype = "int16_t"
	case 0x2:
		ctype = "int32_t"
	case 0x3:
		ctype = "int64_t"
	default:
		e.emitUnknown(pc, uint32(instr))
		return
	}

	addrExpr := fmt.Sprintf("(%s + (int64_t)%d)", reg(instr.Rs1()), int64(instr.StypeImm()))
	if gpAddr, ok := e.gpFoldAddress(instr, int64(instr.StypeImm()), true); ok {
		addrExpr = fmt.Sprintf("%dULL", gpAddr)
	}
	value := reg(instr.Rs2())

	switch e.opt.ArenaMode {
	case ArenaEncompassing:
		fmt.Fprintf(&e.code, "*(%s*)%s = (%s)%s;\n", ctype, e.arenaAt(addrExpr), ctype, value)
	case ArenaFlat:
		fmt.Fprintf(&e.code, "if (LIKELY(ARENA_WRITABLE(%s))) *(%s*)%s = (%s)%s;\n", addrExpr, ctype, e.arenaAt(addrExpr), ctype, value)
		fmt.Fprintf(&e.code, "else api.mem_st(cpu, %s, (uint64_t)(%s)%s, sizeof(%s));\n", addrExpr, ctype, value, ctype)
	default:
		fmt.Fprintf(&e.code, "api.mem_st(cpu, %s, (uint64_t)(%s)%s, sizeof(%s));\n", addrExpr, ctype, value, ctype)
	}
}

func (e *emitter) emitSystem(pc uint64, instr rv.Instr) {
	if instr.Funct3() == 0 {
		imm := uint32(instr.ItypeImm()) & 0xFFF
		switch imm {
		case 0x0: // ECALL
			e.flushCounter()
			fmt.Fprintf(&e.code, "cpu->pc = %dULL;\n", pc)
			fmt.Fprintf(&e.code, "if (api.system_call(cpu, (int)%s)) { return (ReturnValues){counter, max_counter}; }\n", reg(17))
			return
		case 0x1: // EBREAK
			fmt.Fprintf(&e.code, "api.trigger_exception(cpu, %dULL, 0);\nreturn (ReturnValues){0, 0};\n", pc)
			return
		case rv.StopWFIImm: // WFI
			e.exitFunction(fmt.Sprintf("%dULL", pc+4))
			return
		}
	}
	// CSR and anything else funct3 != 0 goes through api.system, which per
	// system_call's documented contract may itself change cpu->pc.
	fmt.Fprintf(&e.code, "cpu->pc = %dULL;\n", pc)
	fmt.Fprintf(&e.code, "api.system(cpu, %dU);\n", uint32(instr))
}
