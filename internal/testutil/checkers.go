// -*- Mode: Go; indent-tabs-mode: t -*-

/*
 * Copyright (C) 2024 Canonical Ltd
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 3 as
 * published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */


// Package testutil contains check.v1 checkers and deterministic fixtures
// shared by the tests in this module.
package testutil

import (
	"errors"
	"reflect"

	. "gopkg.in/check.v1"
)

type boolChecker struct {
	*CheckerInfo
	want bool
}

func (checker *boolChecker) Check(params []interface{}, names []string) (result bool, error string) {
	v := reflect.ValueOf(params[0])
	if v.Kind() != reflect.Bool {
		return false, names[0] + " is not a bool"
	}
	return v.Bool() == checker.want, ""
}

// IsTrue checks that a bool is true.
var IsTrue Checker = &boolChecker{&CheckerInfo{Name: "IsTrue", Params: []string{"value"}}, true}

// IsFalse checks that a bool is false.
var IsFalse Checker = &boolChecker{&CheckerInfo{Name: "IsFalse", Params: []string{"value"}}, false}

type convertibleToChecker struct {
	*CheckerInfo
}

// ConvertibleTo determines whether a value of one type can be converted to
// the type of the supplied sample.
var ConvertibleTo Checker = &convertibleToChecker{
	&CheckerInfo{Name: "ConvertibleTo", Params: []string{"value", "sample"}}}

func (checker *convertibleToChecker) Check(params []interface{}, names []string) (result bool, error string) {
	for i, p := range params {
		if p == nil {
			return false, names[i] + " is nil"
		}
	}
	return reflect.TypeOf(params[0]).ConvertibleTo(reflect.TypeOf(params[1])), ""
}

type errorIsChecker struct {
	*CheckerInfo
}

// ErrorIs determines whether any error in a chain has a specific value,
// equivalent to errors.Is.
var ErrorIs Checker = &errorIsChecker{
	&CheckerInfo{Name: "ErrorIs", Params: []string{"value", "expected"}}}

func (checker *errorIsChecker) Check(params []interface{}, names []string) (result bool, errStr string) {
	for i, p := range params {
		if _, ok := p.(error); !ok {
			return false, names[i] + " is not an error"
		}
	}
	return errors.Is(params[0].(error), params[1].(error)), ""
}
