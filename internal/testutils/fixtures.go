package testutils

// GeometryComponent is a component importing an interface with records,
// enums and a resource, importing a second WASI-style interface, and
// exporting both bare functions and a named interface.
//
//	import example:geo/shapes@1.0.0 { point, color, canvas, [method]canvas.draw, [constructor]canvas }
//	import wasi:cli/environment@0.2.0 { get-arguments }
//	export run(n: u32) -> string
//	export example:hello/greeter@0.1.0 { greet }
//	export norm(p: point) -> f32
func GeometryComponent() []byte {
	shapes := InstanceType(
		DeclType(Record(Field("x", Prim(F32)), Field("y", Prim(F32)))), // 0
		DeclExport("point", DescTypeEq(0)),                               // 1
		DeclType(Enum("red", "green")),                                   // 2
		DeclExport("color", DescTypeEq(2)),                               // 3
		DeclExport("canvas", DescSubResource()),                          // 4
		DeclType(Own(4)),                                                 // 5
		DeclType(Borrow(4)),                                              // 6
		DeclType(List(TypeRef(1))),                                       // 7
		DeclType(Result(Prim(U32), Prim(String))),                        // 8
		DeclType(Func([][]byte{Param("self", TypeRef(6)), Param("points", TypeRef(7))}, TypeRef(8))), // 9
		DeclExport("[method]canvas.draw", DescFunc(9)),
		DeclType(Func([][]byte{Param("c", TypeRef(3))}, TypeRef(5))), // 10
		DeclExport("[constructor]canvas", DescFunc(10)),
	)
	env := InstanceType(
		DeclType(List(Prim(String))),     // 0
		DeclType(Func(nil, TypeRef(0))), // 1
		DeclExport("get-arguments", DescFunc(1)),
	)

	return Component(
		TypeSection(shapes, env), // types 0, 1
		ImportSection(
			Import("example:geo/shapes@1.0.0", DescInstance(0)),     // instance 0
			Import("wasi:cli/environment@0.2.0", DescInstance(1)), // instance 1
		),
		AliasSection(AliasExport(SortType, 0, "point")), // type 2
		TypeSection(
			Func([][]byte{Param("n", Prim(U32))}, Prim(String)), // type 3
			Func([][]byte{Param("p", TypeRef(2))}, Prim(F32)),   // type 4
		),
		CanonSection(CanonLift(0, 3), CanonLift(1, 4)), // funcs 0, 1
		InstanceSection(InlineInstance(InlineExport("greet", SortFunc, 0))), // instance 2
		ExportSection(
			Export("run", SortFunc, 0),
			Export("example:hello/greeter@0.1.0", SortInstance, 2),
			Export("norm", SortFunc, 1),
		),
		Custom("producers", Producers(
			ProducerField("language", "Rust", "1.80.0"),
			ProducerField("processed-by", "wit-component", "0.215.0"),
		)),
	)
}

// GreeterComponent exports a single function fn() -> string and imports
// nothing. Different names give different interface content.
func GreeterComponent(fn string) []byte {
	return Component(
		TypeSection(Func(nil, Prim(String))),
		CanonSection(CanonLift(0, 0)),
		ExportSection(Export(fn, SortFunc, 0)),
	)
}

// HostModule is a core module importing from two modules and exporting a
// function and its memory.
func HostModule() []byte {
	return Module(
		CoreTypeSection(
			CoreFuncType([]byte{I32, I32}, []byte{I32}), // 0
			CoreFuncType(nil, nil),                       // 1
		),
		CoreImportSection(
			CoreFuncImport("env", "add", 0),
			CoreFuncImport("env", "log", 1),
			CoreFuncImport("wasi_snapshot_preview1", "fd_write", 0),
			CoreMemoryImport("env", "memory", 1),
		),
		CoreFunctionSection(1), // func 3
		CoreExportSection(
			CoreExport("_start", CoreFunc, 3),
			CoreExport("memory", CoreMemory, 0),
		),
	)
}

// WorldModule is a core module carrying an embedded component-type custom
// section that describes the world it targets.
func WorldModule() []byte {
	world := ComponentType(
		DeclType(InstanceType( // 0
			DeclType(Func([][]byte{Param("msg", Prim(String))}, nil)),
			DeclExport("info", DescFunc(0)),
		)),
		DeclImport("example:host/log@0.1.0", DescInstance(0)),
		DeclType(Func(nil, Prim(U32))), // 1
		DeclExport("run", DescFunc(1)),
	)
	embedded := Component(
		TypeSection(world),
		ExportSection(Export("example:app/app", SortType, 0)),
	)
	return Module(
		CoreTypeSection(CoreFuncType(nil, []byte{I32})),
		CoreFunctionSection(0),
		CoreExportSection(CoreExport("run", CoreFunc, 0)),
		Custom("component-type:app", embedded),
	)
}

// GreeterClientComponent imports the greeter interface exported by
// GeometryComponent, so the two form a provider/dependent pair.
//
//	import example:hello/greeter@0.1.0 { greet }
func GreeterClientComponent() []byte {
	greeter := InstanceType(
		DeclType(Func(nil, Prim(String))),
		DeclExport("greet", DescFunc(0)),
	)
	return Component(
		TypeSection(greeter),
		ImportSection(Import("example:hello/greeter@0.1.0", DescInstance(0))),
	)
}
