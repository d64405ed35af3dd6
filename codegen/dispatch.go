package codegen

// genFunc lowers one non-structured op.
type genFunc func(g *layerGen, opIdx int) error

// opGenerators dispatches op names to their dedicated generators.
// Anything absent falls back to the extern-call path in genGeneric.
var opGenerators = map[string]genFunc{
	"assign": (*layerGen).genAssign,

	"add": (*layerGen).genAdd,
	"sub": (*layerGen).genSub,
	"mul": (*layerGen).genMul,
	"div": (*layerGen).genDiv,
	"mod": (*layerGen).genMod,
	"neg": (*layerGen).genNeg,

	"min":   (*layerGen).genMinMax,
	"max":   (*layerGen).genMinMax,
	"clamp": (*layerGen).genClamp,
	"mix":   (*layerGen).genMix,

	"eq":  (*layerGen).genCompare,
	"neq": (*layerGen).genCompare,
	"lt":  (*layerGen).genCompare,
	"le":  (*layerGen).genCompare,
	"gt":  (*layerGen).genCompare,
	"ge":  (*layerGen).genCompare,

	"and":    (*layerGen).genBitwise,
	"or":     (*layerGen).genBitwise,
	"bitand": (*layerGen).genBitwise,
	"bitor":  (*layerGen).genBitwise,
	"xor":    (*layerGen).genBitwise,
	"shl":    (*layerGen).genBitwise,
	"shr":    (*layerGen).genBitwise,
	"compl":  (*layerGen).genCompl,
	"not":    (*layerGen).genNot,

	"aref":         (*layerGen).genARef,
	"aassign":      (*layerGen).genAAssign,
	"compref":      (*layerGen).genCompRef,
	"compassign":   (*layerGen).genCompAssign,
	"mxcompref":    (*layerGen).genMxCompRef,
	"mxcompassign": (*layerGen).genMxCompAssign,
	"arraylength":  (*layerGen).genArrayLength,
	"arraycopy":    (*layerGen).genArrayCopy,

	"color":  (*layerGen).genConstructTriple,
	"point":  (*layerGen).genConstructTriple,
	"vector": (*layerGen).genConstructTriple,
	"normal": (*layerGen).genConstructTriple,

	"printf":  (*layerGen).genPrintf,
	"error":   (*layerGen).genPrintf,
	"warning": (*layerGen).genPrintf,
	"format":  (*layerGen).genFormat,

	"raytype":      (*layerGen).genRaytype,
	"getattribute": (*layerGen).genGetAttribute,
	"isconstant":   (*layerGen).genIsConstant,
	"sincos":       (*layerGen).genSincos,

	"dict_find":  (*layerGen).genDictFind,
	"dict_next":  (*layerGen).genDictNext,
	"dict_value": (*layerGen).genDictValue,

	"texture": (*layerGen).genTexture,
	"trace":   (*layerGen).genTrace,
	"closure": (*layerGen).genClosure,

	"useparam": (*layerGen).genUseParam,
	"break":    (*layerGen).genLoopMod,
	"continue": (*layerGen).genLoopMod,
	"return":   (*layerGen).genReturn,
	"exit":     (*layerGen).genExit,
}

// genOps lowers the ops in [from, to). Structured ops consume their
// whole region and report where lowering resumes.
func (g *layerGen) genOps(from, to int) error {
	for i := from; i < to; {
		op := &g.inst.Ops[i]
		g.curOp = i
		next := i + 1
		var err error
		switch op.Name {
		case "if":
			next, err = g.genIf(i)
		case "for", "while":
			next, err = g.genLoop(i, false)
		case "dowhile":
			next, err = g.genLoop(i, true)
		case "functioncall":
			next, err = g.genFunctionCall(i)
		case "nop", "end":
		default:
			if fn, ok := opGenerators[op.Name]; ok {
				err = fn(g, i)
			} else {
				err = g.genGeneric(i)
			}
		}
		if err != nil {
			return err
		}
		i = next
	}
	return nil
}
