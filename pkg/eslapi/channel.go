package eslapi

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Channel issues commands for one live channel
type Channel struct {
	api  *API
	UUID string
}

// Channel returns a handle for the channel with the given UUID
func (a *API) Channel(channelUUID string) (*Channel, error) {
	if channelUUID == "" {
		return nil, fmt.Errorf("channel UUID is required")
	}
	if err := checkArg("channel UUID", channelUUID); err != nil {
		return nil, err
	}
	return &Channel{api: a, UUID: channelUUID}, nil
}

// Pause pauses media on the channel
func (c *Channel) Pause() Result {
	return c.api.bgapi("pause", c.UUID, "on")
}

// Resume resumes media paused by Pause
func (c *Channel) Resume() Result {
	return c.api.bgapi("pause", c.UUID, "off")
}

// Break stops the media currently playing
func (c *Channel) Break() Result {
	return c.api.bgapi("uuid_break", c.UUID)
}

// BreakAll stops the current media and flushes anything queued
func (c *Channel) BreakAll() Result {
	return c.api.bgapi("uuid_break", c.UUID, "all")
}

// Bridge connects this channel to another
func (c *Channel) Bridge(otherUUID string) Result {
	return c.api.bgapi("uuid_bridge", c.UUID, otherUUID)
}

// Transfer sends the channel to destination. Dialplan and context default to
// "XML" and "default".
func (c *Channel) Transfer(destination, dialplan, context string) Result {
	return c.api.bgapi("uuid_transfer", c.UUID, destination, orDefault(dialplan, "XML"), orDefault(context, "default"))
}

// Hangup ends the call with cause, e.g. "NORMAL_CLEARING"; empty uses the
// switch default
func (c *Channel) Hangup(cause string) Result {
	return c.api.bgapi("uuid_kill", c.UUID, cause)
}

// HangupAfter schedules the hangup delay from now, rounded up to a whole second
func (c *Channel) HangupAfter(delay time.Duration, cause string) Result {
	if delay < 0 {
		return ErrorResult{Err: fmt.Errorf("negative hangup delay %s", delay)}
	}
	secs := int64((delay + time.Second - 1) / time.Second)
	return c.api.bgapi("sched_hangup", "+"+strconv.FormatInt(secs, 10), c.UUID, cause)
}

// Exists resolves with "true" if the channel is still up
func (c *Channel) Exists() Result {
	return c.api.bgapi("uuid_exists", c.UUID)
}

// Broadcast runs a dialplan application on the channel's A leg
func (c *Channel) Broadcast(app string, args ...string) Result {
	if app == "" {
		return ErrorResult{Err: fmt.Errorf("application is required")}
	}
	if len(args) > 0 {
		app += "::" + strings.Join(args, " ")
	}
	if err := checkArg("application", app); err != nil {
		return ErrorResult{Err: err}
	}
	return c.api.bgapi("uuid_broadcast", c.UUID, app, "aleg")
}

// BroadcastFile plays a sound file on the channel's A leg
func (c *Channel) BroadcastFile(path string) Result {
	return c.Broadcast(path)
}

// StartRecording records the channel to path, whose extension picks the format.
// A positive limit stops the recording after that many seconds.
func (c *Channel) StartRecording(path string, limit time.Duration) Result {
	if path == "" {
		return ErrorResult{Err: fmt.Errorf("recording path is required")}
	}
	var secs string
	if limit > 0 {
		secs = strconv.FormatInt(int64(limit/time.Second), 10)
	}
	return c.api.bgapi("uuid_record", c.UUID, "start", path, secs)
}

// StopRecording stops the recording to path, or every recording if path is "all"
func (c *Channel) StopRecording(path string) Result {
	if path == "" {
		return ErrorResult{Err: fmt.Errorf("recording path is required")}
	}
	return c.api.bgapi("uuid_record", c.UUID, "stop", path)
}

// Hold places the call on hold
func (c *Channel) Hold() Result {
	return c.api.bgapi("uuid_hold", c.UUID)
}

// Unhold takes the call off hold
func (c *Channel) Unhold() Result {
	return c.api.bgapi("uuid_hold", "off", c.UUID)
}

// Park parks the channel
func (c *Channel) Park() Result {
	return c.api.bgapi("uuid_park", c.UUID)
}

// GetVar reads a channel variable
func (c *Channel) GetVar(name string) Result {
	return c.api.bgapi("uuid_getvar", c.UUID, name)
}

// SetVar sets a channel variable
func (c *Channel) SetVar(name, value string) Result {
	if err := checkArg("value", value); err != nil {
		return ErrorResult{Err: err}
	}
	return c.api.bgapi("uuid_setvar", c.UUID, name, value)
}

// AudioDirection selects the leg of the audio SetAudioLevel adjusts
type AudioDirection string

const (
	AudioRead  AudioDirection = "read"
	AudioWrite AudioDirection = "write"
)

// SetAudioLevel adjusts the channel volume in one direction. level ranges from
// -4 (quiet) to 4 (loud); level 0 without mute restores normal volume.
func (c *Channel) SetAudioLevel(dir AudioDirection, level int, mute bool) Result {
	if dir != AudioRead && dir != AudioWrite {
		return ErrorResult{Err: fmt.Errorf("invalid audio direction %q", dir)}
	}
	if level < -4 || level > 4 {
		return ErrorResult{Err: fmt.Errorf("audio level %d out of range -4..4", level)}
	}
	switch {
	case mute:
		return c.api.bgapi("uuid_audio", c.UUID, "start", string(dir), "mute")
	case level == 0:
		return c.api.bgapi("uuid_audio", c.UUID, "stop")
	default:
		return c.api.bgapi("uuid_audio", c.UUID, "start", string(dir), "level", strconv.Itoa(level))
	}
}
