//go:build !linux

package main

func hardening() {}
