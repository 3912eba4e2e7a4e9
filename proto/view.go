// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package proto

// ViewDefinition is (namespace, viewOn, pipeline, collation). The
// catalog treats it as a value: writers mutate a copy of the
// containing ViewsForDatabase map and swap it in wholesale.
type ViewDefinition struct {
	Namespace Namespace
	ViewOn    string
	Pipeline  []map[string]interface{}
	Collation string
}
