package emit

// Compile-time checks that every concrete Emitter implements the interface.
var (
	_ Emitter = (*NullEmitter)(nil)
	_ Emitter = (*LogEmitter)(nil)
	_ Emitter = (*OTelEmitter)(nil)
	_ Emitter = (*BufferedEmitter)(nil)
)
