// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package json

import (
	gojson "encoding/json"

	"github.com/bytedance/sonic"
)

var (
	json = sonic.ConfigStd
	// Marshal 与 encoding/json.Marshal 行为一致。
	Marshal = json.Marshal
	// Unmarshal 与 encoding/json.Unmarshal 行为一致。
	Unmarshal = json.Unmarshal
	// MarshalIndent 与 encoding/json.MarshalIndent 行为一致。
	MarshalIndent = json.MarshalIndent
	// NewEncoder 与 encoding/json.NewEncoder 行为一致。
	NewEncoder = json.NewEncoder
	// NewDecoder 与 encoding/json.NewDecoder 行为一致。
	NewDecoder = json.NewDecoder
	// Valid 与 encoding/json.Valid 行为一致。
	Valid = json.Valid
)

type (
	RawMessage = gojson.RawMessage
	Number     = gojson.Number
)
