/*
Copyright 2025 LightCI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package scheduler

import (
	"time"

	"github.com/robfig/cron"
)

// resolveLocation defaults to UTC, per spec.md §4.6, with an optional
// per-pipeline IANA timezone override.
func resolveLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// inLocation wraps schedule so Next() is evaluated against loc rather
// than the server's local time.
func inLocation(schedule cron.Schedule, loc *time.Location) cron.Schedule {
	return &locatedSchedule{schedule: schedule, loc: loc}
}

type locatedSchedule struct {
	schedule cron.Schedule
	loc      *time.Location
}

func (l *locatedSchedule) Next(t time.Time) time.Time {
	return l.schedule.Next(t.In(l.loc))
}
