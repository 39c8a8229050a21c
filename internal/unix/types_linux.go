//go:build linux
// +build linux

// Package unix re-exports the subset of golang.org/x/sys/unix constants and
// struct sizes the route-netlink engine needs, under short rtnetlink(7)
// names, so the krtnl package itself never imports golang.org/x/sys/unix
// directly.
package unix

import (
	linux "golang.org/x/sys/unix"
)

const (
	AF_INET        = linux.AF_INET
	AF_UNSPEC      = linux.AF_UNSPEC
	NETLINK_ROUTE  = linux.NETLINK_ROUTE

	SizeofIfInfomsg = linux.SizeofIfInfomsg
	SizeofIfAddrmsg = linux.SizeofIfAddrmsg
	SizeofRtMsg     = linux.SizeofRtMsg

	RTM_NEWLINK = linux.RTM_NEWLINK
	RTM_DELLINK = linux.RTM_DELLINK
	RTM_GETLINK = linux.RTM_GETLINK

	RTM_NEWADDR = linux.RTM_NEWADDR
	RTM_DELADDR = linux.RTM_DELADDR
	RTM_GETADDR = linux.RTM_GETADDR

	RTM_NEWROUTE = linux.RTM_NEWROUTE
	RTM_DELROUTE = linux.RTM_DELROUTE
	RTM_GETROUTE = linux.RTM_GETROUTE

	IFF_UP          = linux.IFF_UP
	IFF_BROADCAST   = linux.IFF_BROADCAST
	IFF_LOOPBACK    = linux.IFF_LOOPBACK
	IFF_POINTOPOINT = linux.IFF_POINTOPOINT
	IFF_MULTICAST   = linux.IFF_MULTICAST

	IFLA_UNSPEC   = linux.IFLA_UNSPEC
	IFLA_ADDRESS  = linux.IFLA_ADDRESS
	IFLA_BROADCAST = linux.IFLA_BROADCAST
	IFLA_IFNAME   = linux.IFLA_IFNAME
	IFLA_MTU      = linux.IFLA_MTU
	IFLA_LINK     = linux.IFLA_LINK
	IFLA_FLAGS    = linux.IFLA_FLAGS

	IFA_UNSPEC    = linux.IFA_UNSPEC
	IFA_ADDRESS   = linux.IFA_ADDRESS
	IFA_LOCAL     = linux.IFA_LOCAL
	IFA_LABEL     = linux.IFA_LABEL
	IFA_BROADCAST = linux.IFA_BROADCAST
	IFA_ANYCAST   = linux.IFA_ANYCAST
	IFA_CACHEINFO = linux.IFA_CACHEINFO
	IFA_FLAGS     = linux.IFA_FLAGS
	IFA_F_SECONDARY = linux.IFA_F_SECONDARY

	RTA_UNSPEC    = linux.RTA_UNSPEC
	RTA_DST       = linux.RTA_DST
	RTA_PREFSRC   = linux.RTA_PREFSRC
	RTA_GATEWAY   = linux.RTA_GATEWAY
	RTA_OIF       = linux.RTA_OIF
	RTA_PRIORITY  = linux.RTA_PRIORITY
	RTA_TABLE     = linux.RTA_TABLE
	RTA_MARK      = linux.RTA_MARK
	RTA_EXPIRES   = linux.RTA_EXPIRES
	RTA_METRICS   = linux.RTA_METRICS
	RTA_MULTIPATH = linux.RTA_MULTIPATH

	RTN_UNICAST     = linux.RTN_UNICAST
	RTN_BLACKHOLE   = linux.RTN_BLACKHOLE
	RTN_UNREACHABLE = linux.RTN_UNREACHABLE
	RTN_PROHIBIT    = linux.RTN_PROHIBIT
	RTN_THROW       = linux.RTN_THROW

	RTPROT_REDIRECT = linux.RTPROT_REDIRECT
	RTPROT_KERNEL   = linux.RTPROT_KERNEL
	RTPROT_BOOT     = linux.RTPROT_BOOT
	RTPROT_STATIC   = linux.RTPROT_STATIC

	RT_TABLE_MAIN = linux.RT_TABLE_MAIN

	RT_SCOPE_UNIVERSE = linux.RT_SCOPE_UNIVERSE
	RT_SCOPE_HOST     = linux.RT_SCOPE_HOST
	RT_SCOPE_LINK     = linux.RT_SCOPE_LINK

	RTMGRP_LINK        = linux.RTMGRP_LINK
	RTMGRP_IPV4_IFADDR = linux.RTMGRP_IPV4_IFADDR
	RTMGRP_IPV4_ROUTE  = linux.RTMGRP_IPV4_ROUTE
)

// ProtoSelf is the routing protocol identifier this module stamps onto
// routes it installs (rtm_protocol on NEWROUTE). 13 sits in the
// IANA/kernel range historically used by user-space routing daemons that
// predate an officially assigned protocol number; the kernel does not
// interpret it beyond echoing it back on dumps, so any stable value in the
// unassigned range is safe to pick.
const ProtoSelf = 13
