package golang

import (
	"strings"
	"testing"

	"github.com/gostdlib/base/context"

	"github.com/segwire/segwire/schema"
)

func personNode() *schema.Node {
	n := &schema.Node{
		ID:     1,
		Name:   "person",
		GoName: "Person",
		Kind:   schema.NodeStruct,
		Fields: []*schema.Field{
			{Name: "age", GoName: "Age", Type: schema.Type{Kind: schema.KindUint32}},
			{Name: "name", GoName: "Name", Type: schema.Type{Kind: schema.KindText}},
			{Name: "email", GoName: "Email", Type: schema.Type{Kind: schema.KindText}, InUnion: true, DiscriminantValue: 0},
			{Name: "phone", GoName: "Phone", Type: schema.Type{Kind: schema.KindText}, InUnion: true, DiscriminantValue: 1},
		},
	}
	schema.ComputeLayout(n)
	return n
}

func TestRenderProducesExpectedSymbols(t *testing.T) {
	req := &schema.CodeGeneratorRequest{
		RequestedFiles: []schema.RequestedFile{
			{ID: 1, Filename: "person.segwire", GoPackage: "personpb", Nodes: []*schema.Node{personNode()}},
		},
	}

	r := Renderer{}
	out, err := r.Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("Render: got %d files, want 1", len(out))
	}

	src := string(out[0].Source)
	want := []string{
		"package personpb",
		"type Person struct",
		"func ReadRootPerson(msg *segwire.Message) (Person, error)",
		"func (s Person) Age() uint32",
		"func (s Person) Name() (string, error)",
		"type Person_Which uint16",
		"Person_Which_Email Person_Which = 0",
		"Person_Which_Phone Person_Which = 1",
		"func (s Person) Which() Person_Which",
		"type Person_Builder struct",
		"func NewRootPerson(msg *segwire.Message) (Person_Builder, error)",
		"func (s Person_Builder) SetAge(v uint32)",
	}
	for _, w := range want {
		if !strings.Contains(src, w) {
			t.Errorf("Render: output missing %q\n--- output ---\n%s", w, src)
		}
	}
}

func TestRenderEnumAndInterface(t *testing.T) {
	enumNode := &schema.Node{
		ID: 2, Name: "color", GoName: "Color", Kind: schema.NodeEnum,
		Enumerants: []schema.Enumerant{{Name: "red", GoName: "Red"}, {Name: "blue", GoName: "Blue"}},
	}
	ifaceNode := &schema.Node{
		ID: 3, Name: "greeter", GoName: "Greeter", Kind: schema.NodeInterface,
		Methods: []schema.Method{{Name: "greet", GoName: "Greet", Ordinal: 0}},
	}
	req := &schema.CodeGeneratorRequest{
		RequestedFiles: []schema.RequestedFile{
			{ID: 2, Filename: "misc.segwire", GoPackage: "miscpb", Nodes: []*schema.Node{enumNode, ifaceNode}},
		},
	}

	out, err := (Renderer{}).Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	src := string(out[0].Source)
	want := []string{
		"type Color uint16",
		"Color_Red Color = 0",
		"Color_Blue Color = 1",
		"func (v Color) String() string",
		"type Greeter struct",
		"func (c Greeter) Greet(ctx context.Context, params segwire.StructReader) (segwire.StructReader, error)",
		"type Greeter_Server interface",
		"func DispatchGreeter(ctx context.Context, srv Greeter_Server, methodID uint16, params segwire.StructReader) (segwire.StructReader, error)",
		`"context"`,
		`"github.com/pkg/errors"`,
	}
	for _, w := range want {
		if !strings.Contains(src, w) {
			t.Errorf("Render: output missing %q\n--- output ---\n%s", w, src)
		}
	}
}

func TestRenderMultipleFilesSortedByName(t *testing.T) {
	req := &schema.CodeGeneratorRequest{
		RequestedFiles: []schema.RequestedFile{
			{ID: 1, Filename: "z.segwire", GoPackage: "zpb", Nodes: nil},
			{ID: 2, Filename: "a.segwire", GoPackage: "apb", Nodes: nil},
		},
	}
	out, err := (Renderer{}).Render(context.Background(), req)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(out) != 2 || out[0].Filename != "a.segwire" || out[1].Filename != "z.segwire" {
		t.Errorf("Render: got order %v, want [a.segwire z.segwire]", []string{out[0].Filename, out[1].Filename})
	}
}
