package eslapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Originate describes a new outbound call. Exactly one of Extension and App
// must be set.
type Originate struct {
	// Destination is the call URL, e.g. "user/1000" or "sofia/gateway/gw/5551234"
	Destination string

	// Extension is routed through the dialplan once the call is answered
	Extension string

	// App and AppArgs run an application on the answered call instead
	App     string
	AppArgs string

	// Dialplan and Context default to "XML" and "default"
	Dialplan string
	Context  string

	// CallerIDName and CallerIDNumber default to "Unknown" and "0"
	CallerIDName   string
	CallerIDNumber string

	// TimeoutSec is the answer timeout; zero uses the switch default
	TimeoutSec int

	// Vars are set on the new channel
	Vars map[string]string

	// UUID is the origination_uuid; a random one is assigned when empty
	UUID string
}

// command builds the originate arguments and returns them with the channel UUID
func (o *Originate) command() (string, []string, error) {
	if o.Destination == "" {
		return "", nil, fmt.Errorf("originate: destination is required")
	}
	if (o.Extension == "") == (o.App == "") {
		return "", nil, fmt.Errorf("originate: exactly one of extension and app is required")
	}
	if o.Context != "" && o.Dialplan == "" {
		return "", nil, fmt.Errorf("originate: dialplan is required when a context is given")
	}
	for name, v := range map[string]string{
		"destination": o.Destination, "extension": o.Extension, "app": o.App,
		"app args": o.AppArgs, "caller id name": o.CallerIDName,
	} {
		if err := checkArg(name, v); err != nil {
			return "", nil, fmt.Errorf("originate: %w", err)
		}
	}

	id := o.UUID
	if id == "" {
		id = uuid.New().String()
	}
	vars := []string{"origination_uuid=" + id}
	keys := make([]string, 0, len(o.Vars))
	for k := range o.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		vars = append(vars, k+"="+o.Vars[k])
	}
	dest := o.Destination
	if strings.HasPrefix(dest, "{") {
		// merge into the caller's variable block
		dest = "{" + strings.Join(vars, ",") + "," + dest[1:]
	} else {
		dest = "{" + strings.Join(vars, ",") + "}" + dest
	}

	target := o.Extension
	if o.App != "" {
		target = "&" + o.App + "(" + o.AppArgs + ")"
	}
	args := []string{
		dest,
		target,
		orDefault(o.Dialplan, "XML"),
		orDefault(o.Context, "default"),
		quoteCallerID(orDefault(o.CallerIDName, "Unknown")),
		orDefault(o.CallerIDNumber, "0"),
	}
	if o.TimeoutSec > 0 {
		args = append(args, strconv.Itoa(o.TimeoutSec))
	}
	return id, args, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// quoteCallerID keeps a name with spaces in one argument
func quoteCallerID(name string) string {
	if strings.ContainsAny(name, " \t") {
		return "'" + strings.ReplaceAll(name, "'", "") + "'"
	}
	return name
}

// Originate places a call and returns the UUID of the new channel along with
// the job result ("+OK <uuid>" on success).
func (a *API) Originate(o *Originate) (string, Result) {
	id, args, err := o.command()
	if err != nil {
		return "", ErrorResult{Err: err}
	}
	return id, a.bgapi("originate", args...)
}
