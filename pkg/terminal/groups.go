package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	breakCmds
	runCmds
	dataCmds
	taskCmds
	stackCmds
	appCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Running the program", runCmds},
	{"Manipulating breakpoints", breakCmds},
	{"Viewing program variables", dataCmds},
	{"Listing, attaching and killing coroutines", taskCmds},
	{"Viewing the call stack and selecting frames", stackCmds},
	{"Inspecting the application", appCmds},
	{"Other commands", otherCmds},
}
