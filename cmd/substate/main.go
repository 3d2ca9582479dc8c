// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The substate command runs a scripted workload on the software driver while
// tracking its state, then builds, replays, verifies or emits the plan that
// restores that state.
package main

import "github.com/google/substate/core/app"

func main() {
	app.ShortHelp = "substate tracks graphics state and builds plans that restore it"
	app.Run()
}
