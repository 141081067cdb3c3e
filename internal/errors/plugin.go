package errors

// PluginSkipped reports an installed app left out of the dispatch table,
// with the load failure as the cause.
func PluginSkipped(app string, err error) *MushroomError {
	return New(CodePluginSkipped).WithSubject(app).Wrap(err)
}
