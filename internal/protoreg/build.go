package protoreg

import (
	"github.com/jhump/protoreflect/v2/protobuilder"
	"google.golang.org/protobuf/reflect/protoreflect"
)

const (
	Package     = "mlld.runtime.v1"
	FilePath    = "mlld/runtime/v1/runtime.proto"
	ServiceName = "Runtime"
)

type fieldSpec struct {
	name     protoreflect.Name
	typ      *protobuilder.FieldType
	repeated bool
	comment  string
}

func newMessage(name protoreflect.Name, desc string, fields ...fieldSpec) *protobuilder.MessageBuilder {
	mb := protobuilder.NewMessage(name)
	mb.SetComments(comment(desc))
	for i, f := range fields {
		fb := protobuilder.NewField(f.name, f.typ)
		fb.SetNumber(protoreflect.FieldNumber(i + 1))
		fb.SetComments(comment(f.comment))
		if f.repeated {
			fb.SetRepeated()
		}
		mb.AddField(fb)
	}
	return mb
}

func str(name protoreflect.Name, desc string) fieldSpec {
	return fieldSpec{name: name, typ: protobuilder.FieldTypeScalar(protoreflect.StringKind), comment: desc}
}

func boolean(name protoreflect.Name, desc string) fieldSpec {
	return fieldSpec{name: name, typ: protobuilder.FieldTypeScalar(protoreflect.BoolKind), comment: desc}
}

// Build assembles the runtime service file and returns its registry.
func Build() (*Registry, error) {
	fb := protobuilder.NewFile(FilePath)
	fb.SetPackageName(Package)
	fb.SetSyntax(protoreflect.Proto3)

	effect := newMessage("Effect", "Effect is one piece of output produced while running.",
		str("kind", "display, stdout, stderr or log"),
		str("text", ""),
	)
	// Responses stream: one message per effect as it is produced, then a
	// final message with done set.
	streamed := func(name protoreflect.Name, desc string) *protobuilder.MessageBuilder {
		return newMessage(name, desc,
			fieldSpec{name: "effect", typ: protobuilder.FieldTypeMessage(effect), comment: "Set on effect messages."},
			str("value_json", "JSON encoded result value. Set on the final message."),
			boolean("done", "Marks the final message."),
		)
	}

	codeReq := newMessage("RunCodeRequest", "RunCodeRequest carries interpolated source and bound arguments.",
		str("name", "Executable name."),
		str("language", ""),
		str("source", ""),
		str("pipeline_id", ""),
		str("args_json", "JSON object of bound parameters."),
	)
	codeResp := streamed("RunCodeResponse", "RunCodeResponse is one message of the RunCode stream.")
	promptReq := newMessage("RunPromptRequest", "RunPromptRequest carries an interpolated prose prompt.",
		str("name", ""),
		str("prompt", ""),
		str("config_json", "JSON encoded model configuration."),
		str("pipeline_id", ""),
	)
	promptResp := streamed("RunPromptResponse", "")

	sb := protobuilder.NewService(ServiceName)
	sb.SetComments(comment("Runtime executes code and prose on behalf of a dispatcher."))
	sb.AddMethod(protobuilder.NewMethod("RunCode",
		protobuilder.RpcTypeMessage(codeReq, false),
		protobuilder.RpcTypeMessage(codeResp, true),
	))
	sb.AddMethod(protobuilder.NewMethod("RunPrompt",
		protobuilder.RpcTypeMessage(promptReq, false),
		protobuilder.RpcTypeMessage(promptResp, true),
	))

	for _, mb := range []*protobuilder.MessageBuilder{effect, codeReq, codeResp, promptReq, promptResp} {
		fb.AddMessage(mb)
	}
	fb.AddService(sb)

	fd, err := fb.Build()
	if err != nil {
		return nil, err
	}
	return newRegistry(fd), nil
}
